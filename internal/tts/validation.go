package tts

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/tts/engines"
	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// ValidationResult contains the result of engine validation
type ValidationResult struct {
	// Engine is the validated engine type
	Engine ttypes.EngineType

	// Available indicates if the engine is available and configured
	Available bool

	// Error contains any validation error
	Error error

	// Guidance provides setup instructions if validation failed
	Guidance string

	// Details contains additional validation information
	Details map[string]string
}

// ValidateEngineSelection resolves the engine from the CLI argument, then config.
// An empty selection returns EngineNone without error: narration is off and
// only text is shown.
func ValidateEngineSelection(cliArg string, config Config) (ttypes.EngineType, error) {
	// 1. CLI argument takes precedence
	engineType := strings.ToLower(strings.TrimSpace(cliArg))

	// 2. Use config if no CLI arg
	if engineType == "" {
		engineType = strings.ToLower(strings.TrimSpace(string(config.Engine)))
	}

	// 3. Validate engine type (normalize aliases)
	switch engineType {
	case "":
		return ttypes.EngineNone, nil
	case "openai":
		return ttypes.EngineOpenAI, nil
	case "http", "relay":
		return ttypes.EngineHTTP, nil
	case "tone", "beep":
		return ttypes.EngineTone, nil
	default:
		return ttypes.EngineNone, fmt.Errorf("%w: %s\n\nSupported engines:\n  - openai (OpenAI speech API)\n  - http   (speech relay endpoint)\n  - tone   (offline test tones)", ErrInvalidEngine, engineType)
	}
}

// ValidateEngine checks that the selected engine is configured.
func ValidateEngine(engineType ttypes.EngineType, config engines.Config) *ValidationResult {
	result := &ValidationResult{
		Engine:  engineType,
		Details: make(map[string]string),
	}

	switch engineType {
	case ttypes.EngineOpenAI:
		result = validateOpenAIEngine(config.OpenAI, result)
	case ttypes.EngineHTTP:
		result = validateHTTPEngine(config.HTTP, result)
	case ttypes.EngineTone:
		result.Details["engine"] = "Tone (Offline)"
		result.Available = true
	case ttypes.EngineNone:
		result.Error = ErrNoEngineConfigured
		result.Guidance = "Specify a synthesis engine with --engine or in the config file"
	default:
		result.Error = fmt.Errorf("%w: %s", ErrInvalidEngine, engineType)
		result.Guidance = "Supported engines: openai, http, tone"
	}

	return result
}

// validateOpenAIEngine validates the OpenAI engine configuration
func validateOpenAIEngine(config engines.OpenAIConfig, result *ValidationResult) *ValidationResult {
	result.Details["engine"] = "OpenAI Speech (Online)"

	if config.APIKey == "" {
		result.Error = fmt.Errorf("OpenAI API key not configured")
		result.Guidance = "Export OPENAI_API_KEY or set openai.api_key in narrate.yml"
		return result
	}

	if config.BaseURL != "" {
		result.Details["base_url"] = config.BaseURL
	}
	if config.Voice != "" {
		result.Details["voice"] = config.Voice
	}

	result.Available = true
	return result
}

// validateHTTPEngine validates the HTTP relay engine configuration
func validateHTTPEngine(config engines.HTTPConfig, result *ValidationResult) *ValidationResult {
	result.Details["engine"] = "HTTP Speech Relay (Online)"

	if config.URL == "" {
		result.Error = fmt.Errorf("speech endpoint URL not configured")
		result.Guidance = "Set http.url in narrate.yml or NARRATE_HTTP_URL"
		return result
	}

	u, err := url.Parse(config.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		result.Error = fmt.Errorf("invalid speech endpoint URL %q", config.URL)
		result.Guidance = "The endpoint must be an http:// or https:// URL"
		return result
	}
	result.Details["url"] = u.Redacted()

	if config.Username != "" {
		result.Details["auth"] = "basic"
	}

	result.Available = true
	return result
}

// NewSynthesizer validates the selected engine and creates it.
func NewSynthesizer(config Config) (ttypes.Synthesizer, error) {
	result := ValidateEngine(config.Engine, config.Engines)
	if result.Available {
		return engines.New(config.Engine, config.Engines)
	}

	// Start on the fallback engine alone when only it is usable
	fallback := config.Engines.Fallback
	if fallback != ttypes.EngineNone && fallback != config.Engine {
		if alt := ValidateEngine(fallback, config.Engines); alt.Available {
			log.Warn("Engine not available, using fallback", "engine", config.Engine, "fallback", fallback, "error", result.Error)
			return engines.New(fallback, engines.Config{
				OpenAI: config.Engines.OpenAI,
				HTTP:   config.Engines.HTTP,
				Tone:   config.Engines.Tone,
			})
		}
	}

	if result.Guidance != "" {
		return nil, fmt.Errorf("%w\n\n%s", result.Error, result.Guidance)
	}
	return nil, result.Error
}
