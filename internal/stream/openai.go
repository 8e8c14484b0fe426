package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds configuration for the chat completion source.
type OpenAIConfig struct {
	// APIKey authenticates against the API (required)
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for compatible servers
	BaseURL string

	// Model is the chat model - defaults to gpt-4o-mini
	Model string

	// System is an optional system prompt
	System string

	Temperature float32
	MaxTokens   int
}

// OpenAISource streams answers from a chat completion endpoint.
type OpenAISource struct {
	client *openai.Client
	config OpenAIConfig
	logger *log.Logger
}

// NewOpenAISource creates a chat completion source.
func NewOpenAISource(config OpenAIConfig) (*OpenAISource, error) {
	if config.APIKey == "" {
		return nil, errors.New("missing OpenAI API key")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAISource{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: log.Default().WithPrefix("openai"),
	}, nil
}

// Stream sends question as a user message and forwards each content delta.
func (s *OpenAISource) Stream(ctx context.Context, question string, onChunk ChunkFunc) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}

	var msgs []openai.ChatCompletionMessage
	if s.config.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s.config.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})

	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    msgs,
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		Stream:      true,
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("create chat completion stream: %w", err)
	}
	defer stream.Close()

	chunks := 0
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("streaming chat completion response: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}

		content := response.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		chunks++
		if err := onChunk(content); err != nil {
			return err
		}
	}

	s.logger.Debug("Chat stream finished", "model", s.config.Model, "chunks", chunks)
	return nil
}
