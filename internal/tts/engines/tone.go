package engines

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"time"
	"unicode/utf8"

	"github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// ToneEngine implements ttypes.Synthesizer offline: each sentence becomes a
// short sine tone whose length follows the text length. Useful for demos
// without an API key and for tests.
type ToneEngine struct {
	config ToneConfig
}

// ToneConfig holds configuration for the tone engine.
type ToneConfig struct {
	// SampleRate of the generated WAV - defaults to 24000
	SampleRate int

	// PerRune is the tone length per character - defaults to 40ms
	PerRune time.Duration

	// MaxDuration caps the tone length - defaults to 3s
	MaxDuration time.Duration

	// Latency simulates a slow synthesis call
	Latency time.Duration
}

// NewToneEngine creates a new tone engine.
func NewToneEngine(config ToneConfig) *ToneEngine {
	if config.SampleRate == 0 {
		config.SampleRate = 24000
	}
	if config.PerRune == 0 {
		config.PerRune = 40 * time.Millisecond
	}
	if config.MaxDuration == 0 {
		config.MaxDuration = 3 * time.Second
	}
	return &ToneEngine{config: config}
}

// Synthesize returns a WAV tone for text.
func (e *ToneEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	if e.config.Latency > 0 {
		select {
		case <-time.After(e.config.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	duration := time.Duration(utf8.RuneCountInString(text)) * e.config.PerRune
	duration = min(max(duration, 150*time.Millisecond), e.config.MaxDuration)

	// Pitch follows the text so different sentences sound different.
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	frequency := 300 + float64(h.Sum32()%400)

	frames := int(math.Ceil(duration.Seconds() * float64(e.config.SampleRate)))
	samples := make([]int16, frames)
	fade := e.config.SampleRate / 100 // 10ms fade in and out avoids clicks
	for i := range samples {
		gain := 0.3
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if i > frames-fade {
			gain *= float64(frames-i) / float64(fade)
		}
		phase := frequency * float64(i) / float64(e.config.SampleRate)
		samples[i] = int16(math.Sin(2*math.Pi*phase) * 32767 * gain)
	}

	return audio.EncodeWAV(&ttypes.Buffer{
		Format:  ttypes.Format{SampleRate: e.config.SampleRate, Channels: 1},
		Samples: samples,
	})
}

// GetInfo returns engine capabilities.
func (e *ToneEngine) GetInfo() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:        "tone",
		Format:      "wav",
		MaxTextSize: 10000,
		IsOnline:    false,
	}
}

// Validate checks the engine configuration.
func (e *ToneEngine) Validate() error {
	if e.config.SampleRate < 8000 {
		return errors.New("tone sample rate must be at least 8000 Hz")
	}
	return nil
}

// Close releases resources.
func (e *ToneEngine) Close() error {
	return nil
}
