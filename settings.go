package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/internal/stream"
	"github.com/dgnsrekt/narrate/internal/tts"
	"github.com/dgnsrekt/narrate/internal/tts/engines"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/spf13/viper"
)

// envConfig holds secrets that are only read from the environment.
type envConfig struct {
	OpenAIKey    string `env:"OPENAI_API_KEY"`
	RAGUser      string `env:"NARRATE_RAG_USER"`
	RAGPassword  string `env:"NARRATE_RAG_PASSWORD"`
	HTTPUser     string `env:"NARRATE_HTTP_USER"`
	HTTPPassword string `env:"NARRATE_HTTP_PASSWORD"`
	LogFile      string `env:"NARRATE_LOG"`
}

func setDefaults() {
	defaults := tts.DefaultConfig()

	viper.SetDefault("engine", "")
	viper.SetDefault("fallback_engine", "")
	viper.SetDefault("fallback_after", 3)
	viper.SetDefault("delimiter", defaults.SentenceDelimiter)
	viper.SetDefault("delay", defaults.InterCallDelay)
	viper.SetDefault("text_delay", defaults.TextToAudioDelay)
	viper.SetDefault("max_concurrent", defaults.MaxConcurrentSynthesis)
	viper.SetDefault("synthesis_timeout", defaults.SynthesisTimeout)
	viper.SetDefault("stall_timeout", defaults.StallTimeout)
	viper.SetDefault("flush_tail", defaults.FlushTail)
	viper.SetDefault("strip_markdown", defaults.StripMarkdown)
	viper.SetDefault("cache.size", defaults.CacheSize>>20)

	device := audio.DefaultDeviceConfig()
	viper.SetDefault("sample_rate", device.SampleRate)
	viper.SetDefault("channels", device.Channels)
	viper.SetDefault("volume", device.Volume)

	viper.SetDefault("openai.model", "tts-1")
	viper.SetDefault("openai.voice", "alloy")
	viper.SetDefault("openai.format", "mp3")
	viper.SetDefault("openai.speed", 1.0)
	viper.SetDefault("http.format", "mp3")
	viper.SetDefault("http.rpm", 50)
	viper.SetDefault("tone.per_rune", 40*time.Millisecond)

	viper.SetDefault("source", "openai")
	viper.SetDefault("chat.model", "gpt-4o-mini")
	viper.SetDefault("rag.top_k", 20)
	viper.SetDefault("rag.rerank_top_k", 5)
	viper.SetDefault("rag.system", "You are a helpful assistant.")

	viper.SetDefault("style", "auto")
	viper.SetDefault("width", 0)
}

// loadTTSConfig builds the pipeline configuration from viper and the environment.
func loadTTSConfig() (tts.Config, error) {
	secrets, err := env.ParseAs[envConfig]()
	if err != nil {
		return tts.Config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	cfg := tts.DefaultConfig()

	engine, err := tts.ValidateEngineSelection(viper.GetString("engine"), cfg)
	if err != nil {
		return tts.Config{}, err
	}
	cfg.Engine = engine

	fallbackEngine, err := tts.ValidateEngineSelection(viper.GetString("fallback_engine"), tts.Config{})
	if err != nil {
		return tts.Config{}, fmt.Errorf("fallback_engine: %w", err)
	}

	cfg.SentenceDelimiter = viper.GetString("delimiter")
	cfg.InterCallDelay = viper.GetDuration("delay")
	cfg.TextToAudioDelay = viper.GetDuration("text_delay")
	cfg.MaxConcurrentSynthesis = viper.GetInt("max_concurrent")
	cfg.SynthesisTimeout = viper.GetDuration("synthesis_timeout")
	cfg.StallTimeout = viper.GetDuration("stall_timeout")
	cfg.FlushTail = viper.GetBool("flush_tail")
	cfg.StripMarkdown = viper.GetBool("strip_markdown")
	cfg.CacheSize = viper.GetInt64("cache.size") << 20

	cfg.Engines = engines.Config{
		OpenAI: engines.OpenAIConfig{
			APIKey:  firstNonEmpty(viper.GetString("openai.api_key"), secrets.OpenAIKey),
			BaseURL: viper.GetString("openai.base_url"),
			Model:   viper.GetString("openai.model"),
			Voice:   viper.GetString("openai.voice"),
			Format:  viper.GetString("openai.format"),
			Speed:   viper.GetFloat64("openai.speed"),
		},
		HTTP: engines.HTTPConfig{
			URL:               viper.GetString("http.url"),
			Voice:             viper.GetString("http.voice"),
			Username:          firstNonEmpty(viper.GetString("http.username"), secrets.HTTPUser),
			Password:          firstNonEmpty(viper.GetString("http.password"), secrets.HTTPPassword),
			Format:            viper.GetString("http.format"),
			RequestsPerMinute: viper.GetInt("http.rpm"),
		},
		Tone: engines.ToneConfig{
			PerRune: viper.GetDuration("tone.per_rune"),
			Latency: viper.GetDuration("tone.latency"),
		},
		Fallback:    fallbackEngine,
		MaxFailures: viper.GetInt("fallback_after"),
	}

	cfg.FallbackMIMEType = fallbackMIME(cfg)
	if mime := viper.GetString("fallback_mime"); mime != "" {
		cfg.FallbackMIMEType = mime
	}

	if err := cfg.Validate(); err != nil {
		return tts.Config{}, err
	}
	return cfg, nil
}

// fallbackMIME labels the engine's output for the last decode strategy.
func fallbackMIME(cfg tts.Config) string {
	format := ""
	switch cfg.Engine {
	case ttypes.EngineOpenAI:
		format = cfg.Engines.OpenAI.Format
	case ttypes.EngineHTTP:
		format = cfg.Engines.HTTP.Format
	case ttypes.EngineTone:
		format = "wav"
	}

	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "pcm":
		// OpenAI raw output
		return "audio/pcm;rate=24000;channels=1"
	default:
		return tts.DefaultFallbackMIMEType
	}
}

func loadDeviceConfig() audio.DeviceConfig {
	cfg := audio.DefaultDeviceConfig()
	cfg.SampleRate = viper.GetInt("sample_rate")
	cfg.Channels = viper.GetInt("channels")
	cfg.Volume = viper.GetFloat64("volume")
	return cfg
}

// newSource creates the question source selected by name.
func newSource(name string) (stream.Source, error) {
	secrets, err := env.ParseAs[envConfig]()
	if err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "chat":
		return stream.NewOpenAISource(stream.OpenAIConfig{
			APIKey:  firstNonEmpty(viper.GetString("openai.api_key"), secrets.OpenAIKey),
			BaseURL: firstNonEmpty(viper.GetString("chat.base_url"), viper.GetString("openai.base_url")),
			Model:   viper.GetString("chat.model"),
			System:  viper.GetString("chat.system"),
		})
	case "rag":
		return stream.NewRAGSource(stream.RAGConfig{
			BaseURL:         viper.GetString("rag.base_url"),
			KnowledgeBaseID: viper.GetString("rag.kb_id"),
			Username:        firstNonEmpty(viper.GetString("rag.username"), secrets.RAGUser),
			Password:        firstNonEmpty(viper.GetString("rag.password"), secrets.RAGPassword),
			System:          viper.GetString("rag.system"),
			TopK:            viper.GetInt("rag.top_k"),
			RerankTopK:      viper.GetInt("rag.rerank_top_k"),
		})
	default:
		return nil, fmt.Errorf("unknown source %q (use openai or rag)", name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
