package engines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/sashabaranov/go-openai"
)

// OpenAIEngine implements ttypes.Synthesizer with the OpenAI speech endpoint.
type OpenAIEngine struct {
	client *openai.Client
	config OpenAIConfig
}

// OpenAIConfig holds configuration for the OpenAI speech engine.
type OpenAIConfig struct {
	// APIKey authenticates against the API (required)
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for compatible servers
	BaseURL string

	// Model is the speech model - defaults to "tts-1"
	Model string

	// Voice is the speaker - defaults to "alloy"
	Voice string

	// Format is the response container, "mp3" or "wav" - defaults to "mp3"
	Format string

	// Speed is the speaking rate (0.25 to 4.0) - defaults to 1.0
	Speed float64

	// Timeout bounds a single request - defaults to 30s
	Timeout time.Duration
}

// NewOpenAIEngine creates a new OpenAI speech engine.
func NewOpenAIEngine(config OpenAIConfig) (*OpenAIEngine, error) {
	if config.APIKey == "" {
		return nil, errors.New("missing OpenAI API key")
	}
	if config.Model == "" {
		config.Model = string(openai.TTSModel1)
	}
	if config.Voice == "" {
		config.Voice = string(openai.VoiceAlloy)
	}
	if config.Format == "" {
		config.Format = string(openai.SpeechResponseFormatMp3)
	}
	if config.Speed == 0 {
		config.Speed = 1.0
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	engine := &OpenAIEngine{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
	if err := engine.Validate(); err != nil {
		return nil, err
	}
	return engine, nil
}

// Synthesize requests speech for text and returns the encoded audio.
func (e *OpenAIEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(e.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(e.config.Voice),
		ResponseFormat: openai.SpeechResponseFormat(e.config.Format),
		Speed:          e.config.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("speech response was empty")
	}
	return data, nil
}

// GetInfo returns engine capabilities.
func (e *OpenAIEngine) GetInfo() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:        "openai",
		Format:      e.config.Format,
		MaxTextSize: 4096,
		IsOnline:    true,
	}
}

// Validate checks the engine configuration.
func (e *OpenAIEngine) Validate() error {
	switch e.config.Format {
	case "mp3", "wav", "pcm":
	default:
		return fmt.Errorf("unsupported response format %q (use mp3, wav or pcm)", e.config.Format)
	}
	if e.config.Speed < 0.25 || e.config.Speed > 4.0 {
		return fmt.Errorf("speed must be between 0.25 and 4.0, got %.2f", e.config.Speed)
	}
	return nil
}

// Close releases resources.
func (e *OpenAIEngine) Close() error {
	return nil
}
