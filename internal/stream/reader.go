package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ReaderSource replays an io.Reader as a chunked stream, the way a chat
// backend would deliver it. The question is ignored.
type ReaderSource struct {
	r io.Reader

	// ChunkRunes is the chunk size in runes - defaults to 8
	ChunkRunes int

	// Pace is the pause between chunks
	Pace time.Duration
}

// NewReaderSource creates a source over r.
func NewReaderSource(r io.Reader, chunkRunes int, pace time.Duration) *ReaderSource {
	if chunkRunes <= 0 {
		chunkRunes = 8
	}
	return &ReaderSource{r: r, ChunkRunes: chunkRunes, Pace: pace}
}

// Stream reads r to the end, forwarding ChunkRunes runes at a time.
func (s *ReaderSource) Stream(ctx context.Context, _ string, onChunk ChunkFunc) error {
	br := bufio.NewReader(s.r)

	var chunk strings.Builder
	flush := func() error {
		if chunk.Len() == 0 {
			return nil
		}
		text := chunk.String()
		chunk.Reset()
		return onChunk(text)
	}

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r, _, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return flush()
		}
		if err != nil {
			return fmt.Errorf("read text: %w", err)
		}

		chunk.WriteRune(r)
		count++
		if count < s.ChunkRunes {
			continue
		}
		count = 0

		if err := flush(); err != nil {
			return err
		}
		if s.Pace > 0 {
			select {
			case <-time.After(s.Pace):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
