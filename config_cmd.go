package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultConfig = `# speech engine: openai, http or tone (empty shows text only)
engine: ""
# engine used after fallback_after consecutive failures (empty disables)
fallback_engine: ""
fallback_after: 3
# sentence delimiter the answer is split on
delimiter: "。"
# pause after each synthesis call
delay: 500ms
# how far narration trails the text
text_delay: 500ms
# synthesis calls allowed in flight
max_concurrent: 1
# how long playback waits for a missing sentence before skipping it;
# 0 skips the gap as soon as a later sentence is ready
stall_timeout: 3s
synthesis_timeout: 30s
# narrate trailing text without a delimiter when the answer ends
flush_tail: false
# remove markdown before synthesis
strip_markdown: true

# audio output
sample_rate: 44100
channels: 1
volume: 1.0

# session synthesis cache in MB (0 disables)
cache:
  size: 32

# answer source for "narrate ask": openai or rag
source: "openai"

# transcript style name for --render
style: "auto"
# word-wrap at width
width: 80

openai:
  # api_key: "sk-..."   (or export OPENAI_API_KEY)
  model: "tts-1"
  voice: "alloy"
  # mp3, wav or pcm
  format: "mp3"
  speed: 1.0

chat:
  model: "gpt-4o-mini"
  # system: "Answer in short sentences."

http:
  # url: "https://relay.example.com/speech"
  format: "mp3"
  # requests per minute
  rpm: 50

rag:
  # base_url: "https://askrag-proxy.example.workers.dev"
  # kb_id: "your-knowledge-base"
  # username / password: or export NARRATE_RAG_USER and NARRATE_RAG_PASSWORD
  system: "You are a helpful assistant."
  top_k: 20
  rerank_top_k: 5

tone:
  per_rune: 40ms
`

// secretKeys are redacted by config --print.
var secretKeys = []string{"api_key", "password"}

var printConfig bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the narrate config file",
	Long:    paragraph(fmt.Sprintf("\n%s the narrate config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("narrate config\nnarrate config --config path/to/config.yml\nnarrate config --print"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if printConfig {
			out, err := effectiveConfig(viper.AllSettings())
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}

		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Narrate", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&printConfig, "print", false, "print the effective configuration")
}

// effectiveConfig renders settings as YAML with secrets redacted.
func effectiveConfig(settings map[string]any) (string, error) {
	redact(settings)
	b, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("unable to encode configuration: %w", err)
	}
	return string(b), nil
}

func redact(settings map[string]any) {
	for k, v := range settings {
		if nested, ok := v.(map[string]any); ok {
			redact(nested)
			continue
		}
		for _, secret := range secretKeys {
			if strings.EqualFold(k, secret) && fmt.Sprint(v) != "" {
				settings[k] = "********"
			}
		}
	}
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
