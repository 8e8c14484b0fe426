package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/internal/stream"
	"github.com/dgnsrekt/narrate/internal/tts"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// withSettings overrides viper keys for the duration of a test.
func withSettings(t *testing.T, settings map[string]any) {
	t.Helper()
	for k, v := range settings {
		old := viper.Get(k)
		viper.Set(k, v)
		t.Cleanup(func() { viper.Set(k, old) })
	}
}

func TestQuestionFromArgs(t *testing.T) {
	q, err := questionFromArgs([]string{"what", "is", "go?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "what is go?", q)

	q, err = questionFromArgs([]string{"-"}, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", q)

	_, err = questionFromArgs([]string{"  "}, nil)
	assert.ErrorIs(t, err, stream.ErrEmptyQuestion)
}

func TestLoadTTSConfig(t *testing.T) {
	withSettings(t, map[string]any{
		"engine":         "beep",
		"delay":          "100ms",
		"text_delay":     250 * time.Millisecond,
		"max_concurrent": 2,
		"cache.size":     4,
	})

	cfg, err := loadTTSConfig()
	require.NoError(t, err)
	assert.Equal(t, ttypes.EngineTone, cfg.Engine)
	assert.Equal(t, 100*time.Millisecond, cfg.InterCallDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.TextToAudioDelay)
	assert.Equal(t, 2, cfg.MaxConcurrentSynthesis)
	assert.EqualValues(t, 4<<20, cfg.CacheSize)
	assert.Equal(t, "audio/wav", cfg.FallbackMIMEType)
}

func TestLoadTTSConfig_FallbackEngine(t *testing.T) {
	withSettings(t, map[string]any{
		"engine":          "openai",
		"fallback_engine": "beep",
		"fallback_after":  2,
	})

	cfg, err := loadTTSConfig()
	require.NoError(t, err)
	assert.Equal(t, ttypes.EngineTone, cfg.Engines.Fallback)
	assert.Equal(t, 2, cfg.Engines.MaxFailures)

	withSettings(t, map[string]any{"fallback_engine": "espeak"})
	_, err = loadTTSConfig()
	assert.ErrorIs(t, err, tts.ErrInvalidEngine)
}

func TestLoadTTSConfig_ImmediateStallSkip(t *testing.T) {
	assert.Contains(t, defaultConfig, "# 0 skips the gap as soon as a later sentence is ready")

	withSettings(t, map[string]any{"stall_timeout": "0s"})
	cfg, err := loadTTSConfig()
	require.NoError(t, err)
	assert.Zero(t, cfg.StallTimeout)
}

func TestLoadTTSConfig_Invalid(t *testing.T) {
	withSettings(t, map[string]any{"engine": "espeak"})
	_, err := loadTTSConfig()
	assert.ErrorIs(t, err, tts.ErrInvalidEngine)

	withSettings(t, map[string]any{"engine": "", "max_concurrent": 0})
	_, err = loadTTSConfig()
	assert.Error(t, err)
}

func TestFallbackMIME(t *testing.T) {
	cfg := tts.DefaultConfig()

	cfg.Engine = ttypes.EngineOpenAI
	cfg.Engines.OpenAI.Format = "pcm"
	assert.Equal(t, "audio/pcm;rate=24000;channels=1", fallbackMIME(cfg))

	cfg.Engines.OpenAI.Format = "mp3"
	assert.Equal(t, tts.DefaultFallbackMIMEType, fallbackMIME(cfg))

	cfg.Engine = ttypes.EngineHTTP
	cfg.Engines.HTTP.Format = "WAV"
	assert.Equal(t, "audio/wav", fallbackMIME(cfg))
}

func TestNewSource(t *testing.T) {
	withSettings(t, map[string]any{"rag.base_url": "https://rag.example.com"})

	source, err := newSource("rag")
	require.NoError(t, err)
	assert.IsType(t, &stream.RAGSource{}, source)

	_, err = newSource("bard")
	assert.Error(t, err)
}

func TestDefaultConfigIsValidYAML(t *testing.T) {
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(defaultConfig), &parsed))

	assert.Equal(t, "", parsed["engine"])
	assert.Equal(t, "。", parsed["delimiter"])
	assert.Contains(t, parsed, "openai")
	assert.Contains(t, parsed, "rag")
}

func TestEffectiveConfigRedactsSecrets(t *testing.T) {
	out, err := effectiveConfig(map[string]any{
		"engine": "openai",
		"openai": map[string]any{"api_key": "sk-secret", "voice": "nova"},
		"rag":    map[string]any{"password": "", "username": "needle"},
	})
	require.NoError(t, err)

	assert.NotContains(t, out, "sk-secret")

	var parsed struct {
		OpenAI map[string]string `yaml:"openai"`
		RAG    map[string]string `yaml:"rag"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "********", parsed.OpenAI["api_key"])
	assert.Equal(t, "nova", parsed.OpenAI["voice"])
	assert.Empty(t, parsed.RAG["password"], "empty secrets stay empty")
	assert.Equal(t, "needle", parsed.RAG["username"])
}

func TestEnsureConfigFile(t *testing.T) {
	old := configFile
	t.Cleanup(func() { configFile = old })

	configFile = filepath.Join(t.TempDir(), "nested", "narrate.yml")
	require.NoError(t, ensureConfigFile())

	b, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig, string(b))

	configFile = filepath.Join(t.TempDir(), "narrate.toml")
	assert.Error(t, ensureConfigFile())
}
