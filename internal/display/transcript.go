// Package display echoes a streamed answer to the terminal and renders the
// finished transcript.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/reflow/wordwrap"
	te "github.com/muesli/termenv"
)

// Transcript collects an answer as it streams in and echoes each chunk to
// its writer while display is on.
type Transcript struct {
	out io.Writer

	mu         sync.Mutex
	text       strings.Builder
	suppressed bool
	hidden     int // Runes received while suppressed
}

// NewTranscript creates a transcript echoing to out. A nil out only collects.
func NewTranscript(out io.Writer) *Transcript {
	if out == nil {
		out = io.Discard
	}
	return &Transcript{out: out}
}

// Write records chunk and echoes it unless display is suppressed.
func (t *Transcript) Write(chunk string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.suppressed {
		t.hidden += len([]rune(chunk))
		return nil
	}

	t.text.WriteString(chunk)
	if _, err := io.WriteString(t.out, chunk); err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}
	return nil
}

// Suppress stops echoing and recording further chunks.
func (t *Transcript) Suppress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suppressed = true
}

// Suppressed reports whether display was suppressed.
func (t *Transcript) Suppressed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed
}

// Hidden returns how many runes arrived after suppression.
func (t *Transcript) Hidden() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hidden
}

// String returns the displayed text.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

// Reset clears the transcript and turns display back on.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.text.Reset()
	t.suppressed = false
	t.hidden = 0
}

// Render renders the transcript as markdown with glamour. style is a glamour
// style name, "auto" picks dark or light from the terminal background.
func (t *Transcript) Render(style string, width int) (string, error) {
	if style == "" || style == styles.AutoStyle {
		if te.HasDarkBackground() {
			style = styles.DarkStyle
		} else {
			style = styles.LightStyle
		}
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return "", fmt.Errorf("error creating glamour renderer: %w", err)
	}

	out, err := r.Render(t.String())
	if err != nil {
		return "", fmt.Errorf("error rendering markdown: %w", err)
	}
	return out, nil
}

// Plain returns the transcript word-wrapped at width without markup
// rendering. width 0 disables wrapping.
func (t *Transcript) Plain(width int) string {
	text := t.String()
	if width <= 0 {
		return text
	}
	return wordwrap.String(text, width)
}
