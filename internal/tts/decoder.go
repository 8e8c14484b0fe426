package tts

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// DefaultFallbackMIMEType is the media type assumed by the typed-blob strategy.
const DefaultFallbackMIMEType = "audio/mpeg"

// Decode strategy names, in the order they are tried.
const (
	StrategyDirect    = "direct"
	StrategyCopy      = "copy"
	StrategyTypedBlob = "typed-blob"
)

// decodeStrategy receives the caller's bytes and a copy taken before any
// strategy ran.
type decodeStrategy struct {
	name   string
	decode func(ctx context.Context, data, pristine []byte) (*ttypes.Buffer, error)
}

// DecoderStats tracks which strategies produced audio.
type DecoderStats struct {
	Decoded    int64
	Failed     int64
	ByStrategy map[string]int64
}

// Decoder turns synthesized bytes into a playable buffer by trying an
// ordered list of strategies over the decode primitive.
type Decoder struct {
	primitive  ttypes.AudioDecoder
	device     ttypes.OutputDevice // Resumed before decoding; may be nil
	strategies []decodeStrategy
	logger     *log.Logger

	mu    sync.Mutex
	stats DecoderStats
}

// NewDecoder creates a decoder. fallbackMIME labels the typed-blob attempt;
// empty uses DefaultFallbackMIMEType.
func NewDecoder(primitive ttypes.AudioDecoder, device ttypes.OutputDevice, fallbackMIME string) *Decoder {
	if fallbackMIME == "" {
		fallbackMIME = DefaultFallbackMIMEType
	}

	d := &Decoder{
		primitive: primitive,
		device:    device,
		logger:    log.Default().WithPrefix("decoder"),
		stats:     DecoderStats{ByStrategy: make(map[string]int64)},
	}

	d.strategies = []decodeStrategy{
		{
			name: StrategyDirect,
			decode: func(ctx context.Context, data, _ []byte) (*ttypes.Buffer, error) {
				return primitive.Decode(ctx, data)
			},
		},
		{
			name: StrategyCopy,
			decode: func(ctx context.Context, _, pristine []byte) (*ttypes.Buffer, error) {
				return primitive.Decode(ctx, clone(pristine))
			},
		},
		{
			name: StrategyTypedBlob,
			decode: func(ctx context.Context, _, pristine []byte) (*ttypes.Buffer, error) {
				return primitive.DecodeBlob(ctx, ttypes.Blob{MIMEType: fallbackMIME, Data: clone(pristine)})
			},
		},
	}
	return d
}

// Decode returns the first successful strategy's buffer. It fails with a
// decode error only when every strategy failed, or at once on empty input.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*ttypes.Buffer, error) {
	if len(data) == 0 {
		d.recordFailure()
		return nil, NewDecodeError(nil, nil)
	}

	d.resumeDevice(ctx)
	pristine := clone(data)

	attempts := make(map[string]error, len(d.strategies))
	order := make([]string, 0, len(d.strategies))

	for _, strategy := range d.strategies {
		if err := ctx.Err(); err != nil {
			attempts[strategy.name] = err
			order = append(order, strategy.name)
			break
		}

		buf, err := strategy.decode(ctx, data, pristine)
		if err == nil && buf != nil && len(buf.Samples) > 0 {
			d.recordSuccess(strategy.name)
			return buf, nil
		}
		if err == nil {
			err = ErrEmptyAudio
		}

		d.logger.Debug("Decode strategy failed", "strategy", strategy.name, "error", err)
		attempts[strategy.name] = err
		order = append(order, strategy.name)
	}

	d.recordFailure()
	return nil, NewDecodeError(attempts, order)
}

// resumeDevice wakes a suspended output device. Failures are not fatal.
func (d *Decoder) resumeDevice(ctx context.Context) {
	if d.device == nil || d.device.State() != ttypes.DeviceSuspended {
		return
	}
	if err := d.device.Resume(ctx); err != nil {
		d.logger.Warn("Failed to resume audio device before decode", "error", err)
	}
}

// Stats returns decoder statistics.
func (d *Decoder) Stats() DecoderStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	stats.ByStrategy = make(map[string]int64, len(d.stats.ByStrategy))
	for k, v := range d.stats.ByStrategy {
		stats.ByStrategy[k] = v
	}
	return stats
}

func (d *Decoder) recordSuccess(strategy string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Decoded++
	d.stats.ByStrategy[strategy]++
}

func (d *Decoder) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Failed++
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
