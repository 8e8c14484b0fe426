package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// FollowSource narrates text appended to a file until its context ends.
// The question is ignored.
type FollowSource struct {
	path string

	// FromStart also streams the content present when following begins
	FromStart bool

	logger *log.Logger
}

// NewFollowSource creates a source following path.
func NewFollowSource(path string, fromStart bool) *FollowSource {
	return &FollowSource{
		path:      path,
		FromStart: fromStart,
		logger:    log.Default().WithPrefix("follow"),
	}
}

// Stream watches the file's directory and forwards new text after every
// write. It returns nil when ctx ends.
func (s *FollowSource) Stream(ctx context.Context, _ string, onChunk ChunkFunc) error {
	path, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("unable to get absolute path: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open file: %w", err)
	}
	defer f.Close()

	if !s.FromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek to end: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}
	s.logger.Debug("fsnotify watching dir", "dir", dir, "file", path)

	tail := &tailReader{f: f}
	if err := tail.forward(onChunk); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path || !event.Has(fsnotify.Write) {
				continue
			}
			if err := tail.forward(onChunk); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Debug("fsnotify error", "dir", dir, "error", err)
		}
	}
}

// tailReader reads what was appended since the last call. An incomplete
// UTF-8 sequence at the end is carried over to the next read.
type tailReader struct {
	f     *os.File
	carry []byte
}

func (t *tailReader) forward(onChunk ChunkFunc) error {
	data, err := io.ReadAll(t.f)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read appended text: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	data = append(t.carry, data...)
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	t.carry = append([]byte(nil), data[cut:]...)
	if cut == 0 {
		return nil
	}
	return onChunk(string(data[:cut]))
}
