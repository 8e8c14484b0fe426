package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgnsrekt/narrate/internal/ttypes"
	"golang.org/x/time/rate"
)

// HTTPEngine implements ttypes.Synthesizer by posting sentences to a speech
// relay that answers with encoded audio.
type HTTPEngine struct {
	config HTTPConfig
	client *http.Client

	// Rate limiting to avoid being blocked by the relay
	rateLimiter *rate.Limiter
}

// HTTPConfig holds configuration for the HTTP speech engine.
type HTTPConfig struct {
	// URL is the speech endpoint (required)
	URL string

	// Voice is passed through to the relay when set
	Voice string

	// Username and Password enable basic auth when set
	Username string
	Password string

	// Format is the container the relay returns - defaults to "mp3"
	Format string

	// Timeout bounds a single request - defaults to 30s
	Timeout time.Duration

	// Rate limit requests per minute (defaults to 50)
	RequestsPerMinute int
}

// speechRequest is the relay request body.
type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// NewHTTPEngine creates a new HTTP speech engine.
func NewHTTPEngine(config HTTPConfig) (*HTTPEngine, error) {
	if config.Format == "" {
		config.Format = "mp3"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = 50 // Conservative default
	}

	engine := &HTTPEngine{
		config:      config,
		client:      &http.Client{Timeout: config.Timeout},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
	}
	if err := engine.Validate(); err != nil {
		return nil, err
	}
	return engine, nil
}

// Synthesize posts text to the relay and returns the audio body.
func (e *HTTPEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	// Rate limit to avoid being blocked
	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	body, err := json.Marshal(speechRequest{Text: text, Voice: e.config.Voice})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	if e.config.Username != "" {
		req.SetBasicAuth(e.config.Username, e.config.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech relay returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("speech response was empty")
	}
	return data, nil
}

// GetInfo returns engine capabilities.
func (e *HTTPEngine) GetInfo() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:        "http",
		Format:      e.config.Format,
		MaxTextSize: 5000,
		IsOnline:    true,
	}
}

// Validate checks the engine configuration.
func (e *HTTPEngine) Validate() error {
	if e.config.URL == "" {
		return errors.New("speech endpoint URL not configured")
	}
	u, err := url.Parse(e.config.URL)
	if err != nil {
		return fmt.Errorf("invalid speech endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("speech endpoint must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Close releases idle connections.
func (e *HTTPEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
