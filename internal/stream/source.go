package stream

import (
	"context"
	"errors"
)

// ErrEmptyQuestion is returned when a question source is asked nothing.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// ChunkFunc receives one text chunk. Returning an error ends the stream
// with that error.
type ChunkFunc func(chunk string) error

// Source streams text for a question as incremental chunks.
type Source interface {
	// Stream delivers chunks to onChunk until the answer is complete, ctx
	// ends or onChunk fails.
	Stream(ctx context.Context, question string, onChunk ChunkFunc) error
}
