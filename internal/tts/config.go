package tts

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/narrate/internal/tts/engines"
	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// Config represents narration pipeline configuration. It is static for
// the lifetime of a pipeline.
type Config struct {
	// Engine is the selected synthesis engine
	Engine ttypes.EngineType

	// SentenceDelimiter ends a narratable sentence
	SentenceDelimiter string

	// MaxConcurrentSynthesis is the number of synthesis calls allowed in flight
	MaxConcurrentSynthesis int

	// InterCallDelay is the pause after each synthesis call settles
	InterCallDelay time.Duration

	// TextToAudioDelay keeps narration behind the text, measured per sentence
	// from when its text was known
	TextToAudioDelay time.Duration

	// SynthesisTimeout bounds one synthesis call (0 = no limit)
	SynthesisTimeout time.Duration

	// StallTimeout is how long playback waits for a missing sentence before
	// skipping it. 0 skips as soon as a later sentence is ready.
	StallTimeout time.Duration

	// FallbackMIMEType labels audio for the last decode strategy
	FallbackMIMEType string

	// FlushTail narrates undelimited trailing text when the stream ends
	FlushTail bool

	// StripMarkdown removes markup from sentences before synthesis
	StripMarkdown bool

	// CacheSize is the session synthesis cache capacity in bytes (0 disables)
	CacheSize int64

	// Engines contains the per-engine configuration sections
	Engines engines.Config
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		SentenceDelimiter:      DefaultSentenceDelimiter,
		MaxConcurrentSynthesis: 1,
		InterCallDelay:         500 * time.Millisecond,
		TextToAudioDelay:       500 * time.Millisecond,
		SynthesisTimeout:       30 * time.Second,
		StallTimeout:           3 * time.Second,
		FallbackMIMEType:       DefaultFallbackMIMEType,
		StripMarkdown:          true,
		CacheSize:              32 << 20, // 32MB
	}
}

// Validate checks configuration ranges.
func (c Config) Validate() error {
	if c.SentenceDelimiter == "" {
		return NewTTSError(ErrorCodeInvalidInput, "sentence delimiter cannot be empty", nil)
	}
	if c.MaxConcurrentSynthesis < 1 {
		return NewTTSError(ErrorCodeInvalidInput,
			fmt.Sprintf("max concurrent synthesis must be at least 1, got %d", c.MaxConcurrentSynthesis), nil)
	}
	if c.InterCallDelay < 0 {
		return NewTTSError(ErrorCodeInvalidInput, "inter-call delay cannot be negative", nil)
	}
	if c.TextToAudioDelay < 0 {
		return NewTTSError(ErrorCodeInvalidInput, "text-to-audio delay cannot be negative", nil)
	}
	if c.SynthesisTimeout < 0 {
		return NewTTSError(ErrorCodeInvalidInput, "synthesis timeout cannot be negative", nil)
	}
	if c.StallTimeout < 0 {
		return NewTTSError(ErrorCodeInvalidInput, "stall timeout cannot be negative", nil)
	}
	if c.CacheSize < 0 {
		return NewTTSError(ErrorCodeInvalidInput, "cache size cannot be negative", nil)
	}
	if c.Engines.MaxFailures < 0 {
		return NewTTSError(ErrorCodeInvalidInput, "fallback failure count cannot be negative", nil)
	}
	return nil
}
