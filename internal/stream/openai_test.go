package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAISource_Stream(t *testing.T) {
	requests := make(chan openai.ChatCompletionRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		requests <- req

		w.Header().Set("Content-Type", "text/event-stream")
		for _, content := range []string{"Hel", "", "lo。", "World。"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", content)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	source, err := NewOpenAISource(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, System: "be brief"})
	require.NoError(t, err)

	var chunks []string
	err = source.Stream(context.Background(), "greet me", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo。", "World。"}, chunks)

	got := <-requests
	assert.True(t, got.Stream)
	assert.Equal(t, openai.GPT4oMini, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "greet me", got.Messages[1].Content)
}

func TestOpenAISource_Errors(t *testing.T) {
	_, err := NewOpenAISource(OpenAIConfig{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	source, err := NewOpenAISource(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	noop := func(string) error { return nil }
	assert.ErrorIs(t, source.Stream(context.Background(), "", noop), ErrEmptyQuestion)
	assert.Error(t, source.Stream(context.Background(), "q", noop))
}
