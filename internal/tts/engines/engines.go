package engines

import (
	"fmt"

	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// Config aggregates the per-engine configuration sections.
type Config struct {
	OpenAI OpenAIConfig
	HTTP   HTTPConfig
	Tone   ToneConfig

	// Fallback takes over after MaxFailures consecutive failures (empty = none)
	Fallback    ttypes.EngineType
	MaxFailures int
}

// New creates the engine selected by engineType, wrapped with the configured
// fallback engine.
func New(engineType ttypes.EngineType, config Config) (ttypes.Synthesizer, error) {
	primary, err := newEngine(engineType, config)
	if err != nil {
		return nil, err
	}
	if config.Fallback == ttypes.EngineNone || config.Fallback == engineType {
		return primary, nil
	}

	fallback, err := newEngine(config.Fallback, config)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("fallback engine: %w", err)
	}
	maxFailures := config.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	return NewFallbackEngine(primary, fallback, maxFailures), nil
}

func newEngine(engineType ttypes.EngineType, config Config) (ttypes.Synthesizer, error) {
	switch engineType {
	case ttypes.EngineOpenAI:
		return NewOpenAIEngine(config.OpenAI)
	case ttypes.EngineHTTP:
		return NewHTTPEngine(config.HTTP)
	case ttypes.EngineTone:
		return NewToneEngine(config.Tone), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engineType)
	}
}
