package stream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, source Source) []string {
	t.Helper()
	var chunks []string
	err := source.Stream(context.Background(), "", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	return chunks
}

func TestReaderSource_ChunksByRune(t *testing.T) {
	source := NewReaderSource(strings.NewReader("你好，世界。Hi"), 3, 0)
	assert.Equal(t, []string{"你好，", "世界。", "Hi"}, collect(t, source))

	assert.Empty(t, collect(t, NewReaderSource(strings.NewReader(""), 0, 0)))
}

func TestReaderSource_StopsOnCallbackError(t *testing.T) {
	source := NewReaderSource(strings.NewReader("abcdef"), 2, 0)
	stop := errors.New("stop")

	calls := 0
	err := source.Stream(context.Background(), "", func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReaderSource_PaceHonoursContext(t *testing.T) {
	source := NewReaderSource(strings.NewReader("abcdef"), 1, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := source.Stream(ctx, "", func(string) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTailReader_CarriesPartialRune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.txt")
	word := []byte("世界")

	require.NoError(t, os.WriteFile(path, word[:4], 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tail := &tailReader{f: f}
	var chunks []string
	onChunk := func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	}

	require.NoError(t, tail.forward(onChunk))
	assert.Equal(t, []string{"世"}, chunks)

	appendFile(t, path, word[4:])
	require.NoError(t, tail.forward(onChunk))
	assert.Equal(t, []string{"世", "界"}, chunks)
}

func TestFollowSource_StreamsAppendedText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.txt")
	require.NoError(t, os.WriteFile(path, []byte("First。"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chunks := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- NewFollowSource(path, true).Stream(ctx, "", func(chunk string) error {
			chunks <- chunk
			return nil
		})
	}()

	assert.Equal(t, "First。", receiveChunk(t, chunks))

	appendFile(t, path, []byte("Second。"))
	assert.Equal(t, "Second。", receiveChunk(t, chunks))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("follow did not stop")
	}
}

func TestFollowSource_MissingFile(t *testing.T) {
	err := NewFollowSource(filepath.Join(t.TempDir(), "nope.txt"), false).
		Stream(context.Background(), "", func(string) error { return nil })
	assert.Error(t, err)
}

func appendFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func receiveChunk(t *testing.T, chunks <-chan string) string {
	t.Helper()
	select {
	case chunk := <-chunks:
		return chunk
	case <-time.After(3 * time.Second):
		t.Fatal("no chunk received")
		return ""
	}
}
