package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/queue"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/google/uuid"
)

// silenceDuration is the length of the placeholder played for sentences
// with nothing speakable, so playback order holds without a stall.
const silenceDuration = 50 * time.Millisecond

// Pipeline narrates a streamed answer sentence by sentence. Text chunks go
// through the segmenter; each sentence is synthesized through the throttle,
// decoded, delayed behind the text and handed to the ordered queue.
type Pipeline struct {
	// Components
	segmenter *Segmenter
	throttle  *Throttle
	decoder   *Decoder
	queue     *queue.OrderedQueue
	synth     ttypes.Synthesizer
	cache     ttypes.AudioCache
	stripper  *MarkdownStripper
	device    ttypes.OutputDevice

	// Configuration
	config    Config
	sessionID string

	// Processing control
	ctx    context.Context
	cancel context.CancelFunc

	displayText atomic.Bool

	mu       sync.Mutex
	closed   bool
	inflight int
	waiters  []chan struct{}

	// Metrics and monitoring
	stats   PipelineStats
	statsMu sync.Mutex

	logger *log.Logger
}

// PipelineStats tracks narration metrics
type PipelineStats struct {
	SessionID       string
	Sentences       int64 // Sentences handed to narration
	Synthesized     int64 // Successful synthesis calls
	CacheHits       int64
	Silent          int64 // Sentences with nothing speakable
	SynthesisErrors int64
	DecodeErrors    int64
	Played          int64
	Skipped         int64
	Stopped         int64
	Discarded       int64 // Finished after a Stop and never submitted
	PlaybackErrors  int64

	Throttle ThrottleStats
	Queue    queue.Stats
	Cache    ttypes.CacheStats
}

// NewPipeline creates a narration pipeline. cache may be nil.
func NewPipeline(config Config, synth ttypes.Synthesizer, primitive ttypes.AudioDecoder, device ttypes.OutputDevice, audioCache ttypes.AudioCache) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if synth == nil {
		return nil, ErrNoEngineConfigured
	}
	if primitive == nil {
		return nil, fmt.Errorf("audio decoder cannot be nil")
	}
	if device == nil {
		return nil, fmt.Errorf("output device cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessionID := uuid.NewString()

	voice := config.Engines.OpenAI.Voice
	if config.Engine == ttypes.EngineHTTP {
		voice = config.Engines.HTTP.Voice
	}

	p := &Pipeline{
		segmenter: NewSegmenter(config.SentenceDelimiter, string(config.Engine)+"/"+voice),
		throttle: NewThrottle(ThrottleConfig{
			MaxConcurrent: config.MaxConcurrentSynthesis,
			Delay:         config.InterCallDelay,
		}),
		decoder: NewDecoder(primitive, device, config.FallbackMIMEType),
		queue: queue.NewOrderedQueue(device, queue.Config{
			StallTimeout: config.StallTimeout,
		}),
		synth:     synth,
		cache:     audioCache,
		device:    device,
		config:    config,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		stats:     PipelineStats{SessionID: sessionID},
		logger:    log.Default().WithPrefix("narrate").With("session", sessionID[:8]),
	}
	if config.StripMarkdown {
		p.stripper = NewMarkdownStripper()
	}
	p.displayText.Store(true)

	p.logger.Debug("Pipeline ready",
		"engine", synth.GetInfo().Name,
		"delimiter", config.SentenceDelimiter,
		"text_delay", config.TextToAudioDelay)
	return p, nil
}

// Feed consumes one streamed text chunk. When text display is suppressed
// the chunk is ignored and playback is stopped.
func (p *Pipeline) Feed(chunk string) error {
	if p.isClosed() {
		return ErrPipelineClosed
	}

	if !p.displayText.Load() {
		p.Stop()
		return nil
	}

	if sentence, ok := p.segmenter.Feed(chunk); ok {
		p.narrate(sentence)
	}
	return nil
}

// Finish is called when the stream ended. It narrates complete sentences
// still held by the segmenter and, with FlushTail, the trailing partial one.
func (p *Pipeline) Finish() error {
	if p.isClosed() {
		return ErrPipelineClosed
	}
	if !p.displayText.Load() {
		return nil
	}

	for {
		sentence, ok := p.segmenter.Drain()
		if !ok {
			break
		}
		p.narrate(sentence)
	}

	if p.config.FlushTail {
		if sentence, ok := p.segmenter.Flush(); ok {
			p.narrate(sentence)
		}
	}
	return nil
}

// Wait blocks until every started narration settled or ctx ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	if p.inflight == 0 {
		p.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	p.waiters = append(p.waiters, done)
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop silences narration immediately. In-flight synthesis is left to
// settle but its audio is discarded.
func (p *Pipeline) Stop() {
	// The next sentence opens the new round and plays at once.
	p.queue.StopAt(p.segmenter.NextSequence())
}

// Reset prepares for a new answer: restarts sentence numbering and stops
// narration.
func (p *Pipeline) Reset() {
	p.segmenter.Reset()
	p.Stop()
}

// SetDisplayText toggles text display. While off, Feed stops narration.
func (p *Pipeline) SetDisplayText(on bool) {
	p.displayText.Store(on)
}

// DisplayText reports whether text display is on.
func (p *Pipeline) DisplayText() bool {
	return p.displayText.Load()
}

// State returns the playback state.
func (p *Pipeline) State() ttypes.State {
	return p.queue.State()
}

// SessionID identifies this pipeline in logs.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// Pending returns text held back waiting for a delimiter.
func (p *Pipeline) Pending() string {
	return p.segmenter.Pending()
}

// Close stops narration, rejects queued synthesis and cancels in-flight
// narrations. The synthesizer and cache belong to the caller.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.Stop()
	return p.throttle.Close()
}

// Stats returns aggregate narration statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.statsMu.Lock()
	stats := p.stats
	p.statsMu.Unlock()

	stats.Throttle = p.throttle.Stats()
	stats.Queue = p.queue.Stats()
	if p.cache != nil {
		stats.Cache = p.cache.Stats()
	}
	return stats
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// narrate starts the background narration of one sentence.
func (p *Pipeline) narrate(sentence ttypes.Sentence) {
	p.mu.Lock()
	p.inflight++
	p.mu.Unlock()

	p.count(func(s *PipelineStats) { s.Sentences++ })
	p.logger.Debug("Sentence ready", "seq", sentence.Sequence, "text", sentence.Text)

	round := p.queue.Round()
	go func() {
		defer p.settle()
		p.run(round, sentence)
	}()
}

// settle marks one narration finished and releases waiters when idle.
func (p *Pipeline) settle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inflight--
	if p.inflight > 0 {
		return
	}
	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil
}

// run synthesizes, decodes, delays and submits one sentence. Failures are
// logged and drop only this sentence's audio.
func (p *Pipeline) run(round uint64, sentence ttypes.Sentence) {
	ctx := p.ctx
	seq := sentence.Sequence

	text := sentence.Text
	if p.stripper != nil {
		text = p.stripper.Strip(text)
	}

	var buf *ttypes.Buffer
	if strings.TrimSpace(strings.ReplaceAll(text, p.config.SentenceDelimiter, "")) == "" {
		buf = p.silence()
		p.count(func(s *PipelineStats) { s.Silent++ })
	} else {
		data, err := p.synthesize(ctx, sentence, text)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("Synthesis failed", "seq", seq, "error", err)
			}
			p.count(func(s *PipelineStats) { s.SynthesisErrors++ })
			return
		}

		buf, err = p.decoder.Decode(ctx, data)
		if err != nil {
			p.logger.Error("Decode failed", "seq", seq, "bytes", len(data), "error", err)
			p.count(func(s *PipelineStats) { s.DecodeErrors++ })
			return
		}
	}

	// Keep narration behind the text, measured from when this sentence was known.
	if wait := time.Until(sentence.KnownAt.Add(p.config.TextToAudioDelay)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	// A Stop since the sentence was emitted discards the audio.
	select {
	case res := <-p.queue.SubmitRound(round, buf, seq):
		p.record(res)
	case <-ctx.Done():
	}
}

// synthesize returns cached audio or calls the synthesizer through the throttle.
func (p *Pipeline) synthesize(ctx context.Context, sentence ttypes.Sentence, text string) ([]byte, error) {
	if p.cache != nil {
		if data, ok := p.cache.Get(sentence.CacheKey); ok {
			p.count(func(s *PipelineStats) { s.CacheHits++ })
			return data, nil
		}
	}

	data, err := p.throttle.Do(ctx, func(ctx context.Context) ([]byte, error) {
		if p.config.SynthesisTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.config.SynthesisTimeout)
			defer cancel()
		}
		return p.synth.Synthesize(ctx, text)
	})
	if err != nil {
		return nil, NewSynthesisError(sentence.Sequence, err)
	}
	if len(data) == 0 {
		return nil, NewSynthesisError(sentence.Sequence, ErrEmptyAudio)
	}
	p.count(func(s *PipelineStats) { s.Synthesized++ })

	if p.cache != nil {
		if err := p.cache.Put(sentence.CacheKey, data); err != nil && !errors.Is(err, cache.ErrItemTooLarge) {
			p.logger.Warn("Failed to cache audio", "seq", sentence.Sequence, "error", err)
		}
	}
	return data, nil
}

// silence returns a short silent buffer in the device format.
func (p *Pipeline) silence() *ttypes.Buffer {
	format := p.device.Format()
	frames := int(silenceDuration * time.Duration(format.SampleRate) / time.Second)
	return &ttypes.Buffer{
		Format:  format,
		Samples: make([]int16, max(frames, 1)*format.Channels),
	}
}

// record counts a queue result.
func (p *Pipeline) record(res queue.Result) {
	p.count(func(s *PipelineStats) {
		switch res.Outcome {
		case queue.OutcomePlayed:
			s.Played++
		case queue.OutcomeSkipped, queue.OutcomeReplaced:
			s.Skipped++
		case queue.OutcomeStopped:
			s.Stopped++
		case queue.OutcomeFailed:
			s.PlaybackErrors++
		case queue.OutcomeDiscarded:
			s.Discarded++
		}
	})
	if res.Outcome == queue.OutcomeSkipped {
		p.logger.Debug("Audio skipped", "seq", res.Sequence)
	}
}

func (p *Pipeline) count(update func(s *PipelineStats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	update(&p.stats)
}
