package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	streamQueryPath = "/vector_store/stream_query"
	queryPath       = "/vector_store/query"
)

// RAGConfig holds configuration for the knowledge base backend.
type RAGConfig struct {
	// BaseURL of the backend or its CORS proxy (required)
	BaseURL string

	// KnowledgeBaseID selects the vector store index
	KnowledgeBaseID string

	// Username and Password enable basic auth when set
	Username string
	Password string

	// System prompt for streaming queries
	System string

	// TopK and RerankTopK tune retrieval - default to 20 and 5
	TopK       int
	RerankTopK int

	// Timeout bounds a non-streaming query - defaults to 60s
	Timeout time.Duration
}

// ragMessage is one chat turn in a backend request.
type ragMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ragRequest is the backend request body for both query endpoints.
type ragRequest struct {
	ID         string       `json:"id"`
	Messages   []ragMessage `json:"messages"`
	System     string       `json:"system"`
	TopK       int          `json:"top_k"`
	RerankTopK int          `json:"rerank_top_k"`
}

// ragEvent is one object of the streaming response.
type ragEvent struct {
	Data struct {
		Content string `json:"content"`
	} `json:"data"`
}

// ragResponse is the non-streaming query response.
type ragResponse struct {
	Code int `json:"code"`
	Data struct {
		Content string `json:"content"`
	} `json:"data"`
	Error string `json:"error"`
}

// RAGSource streams answers from the knowledge base backend. The streaming
// body is a sequence of concatenated JSON objects; the content of each is
// split into lines and every non-empty line is a chunk.
type RAGSource struct {
	config RAGConfig
	client *http.Client
	logger *log.Logger
}

// NewRAGSource creates a knowledge base source.
func NewRAGSource(config RAGConfig) (*RAGSource, error) {
	u, err := url.Parse(config.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid RAG base URL %q", config.BaseURL)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.TopK == 0 {
		config.TopK = 20
	}
	if config.RerankTopK == 0 {
		config.RerankTopK = 5
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &RAGSource{
		config: config,
		// Streaming bodies are bounded by the caller's context only.
		client: &http.Client{},
		logger: log.Default().WithPrefix("rag"),
	}, nil
}

// Stream posts question to the streaming endpoint and forwards its chunks.
func (s *RAGSource) Stream(ctx context.Context, question string, onChunk ChunkFunc) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}

	resp, err := s.post(ctx, streamQueryPath, s.request(question, s.config.System))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	chunks := 0
	for {
		var event ragEvent
		err := decoder.Decode(&event)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("decode stream event: %w", err)
		}

		if strings.TrimSpace(event.Data.Content) == "" {
			continue
		}
		for _, line := range strings.Split(event.Data.Content, "\n") {
			if line == "" {
				continue
			}
			chunks++
			if err := onChunk(line); err != nil {
				return err
			}
		}
	}

	s.logger.Debug("RAG stream finished", "chunks", chunks)
	return nil
}

// Query performs a non-streaming request. A response whose code is not 200
// yields the backend's error text as the answer.
func (s *RAGSource) Query(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.post(ctx, queryPath, s.request(question, ""))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ragResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode query response: %w", err)
	}
	if out.Code == http.StatusOK {
		return out.Data.Content, nil
	}
	return out.Error, nil
}

func (s *RAGSource) request(question, system string) ragRequest {
	return ragRequest{
		ID:         s.config.KnowledgeBaseID,
		Messages:   []ragMessage{{Role: "user", Content: question}},
		System:     system,
		TopK:       s.config.TopK,
		RerankTopK: s.config.RerankTopK,
	}
}

// post sends body and returns a response with a 2xx status.
func (s *RAGSource) post(ctx context.Context, path string, body ragRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Username != "" {
		req.SetBasicAuth(s.config.Username, s.config.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("RAG backend returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return resp, nil
}
