package tts

import (
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// DefaultSentenceDelimiter is the ideographic full stop the chat backend ends sentences with.
const DefaultSentenceDelimiter = "。"

// Segmenter accumulates streamed text chunks and extracts complete sentences.
// At most one sentence is emitted per call; the rest stays buffered.
type Segmenter struct {
	delimiter string
	voice     string // mixed into cache keys

	mu       sync.Mutex
	buf      strings.Builder
	sequence int
	now      func() time.Time
}

// NewSegmenter creates a segmenter splitting on delimiter.
func NewSegmenter(delimiter, voice string) *Segmenter {
	if delimiter == "" {
		delimiter = DefaultSentenceDelimiter
	}
	return &Segmenter{
		delimiter: delimiter,
		voice:     voice,
		now:       time.Now,
	}
}

// Feed appends chunk and returns the first complete sentence, if any.
func (s *Segmenter) Feed(chunk string) (ttypes.Sentence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.WriteString(chunk)
	return s.next()
}

// Drain returns the next held complete sentence without adding text.
func (s *Segmenter) Drain() (ttypes.Sentence, bool) {
	return s.Feed("")
}

// Flush emits the held text as a final sentence even though it has no
// delimiter. Blank leftovers are discarded.
func (s *Segmenter) Flush() (ttypes.Sentence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rest := s.buf.String()
	s.buf.Reset()
	if strings.TrimSpace(strings.ReplaceAll(rest, s.delimiter, "")) == "" {
		return ttypes.Sentence{}, false
	}
	return s.emit(rest), true
}

// Pending returns the buffered text that has not been emitted yet.
func (s *Segmenter) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// NextSequence returns the sequence number the next sentence will get.
func (s *Segmenter) NextSequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Reset drops buffered text and restarts numbering at 0.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.sequence = 0
}

// next extracts the first non-blank delimited fragment. Blank fragments in
// front of it are dropped along with their delimiters.
func (s *Segmenter) next() (ttypes.Sentence, bool) {
	text := s.buf.String()
	if !strings.Contains(text, s.delimiter) {
		return ttypes.Sentence{}, false
	}

	pos := 0
	for {
		i := strings.Index(text[pos:], s.delimiter)
		if i < 0 {
			// Only blank fragments were delimited; keep the undelimited tail.
			s.reset(text[pos:])
			return ttypes.Sentence{}, false
		}

		fragment := text[pos : pos+i]
		end := pos + i + len(s.delimiter)
		if strings.TrimSpace(fragment) == "" {
			pos = end
			continue
		}

		s.reset(text[end:])
		return s.emit(fragment + s.delimiter), true
	}
}

func (s *Segmenter) reset(rest string) {
	s.buf.Reset()
	s.buf.WriteString(rest)
}

func (s *Segmenter) emit(text string) ttypes.Sentence {
	sentence := ttypes.Sentence{
		Sequence: s.sequence,
		Text:     text,
		CacheKey: cache.GenerateCacheKey(text, s.voice),
		KnownAt:  s.now(),
	}
	s.sequence++
	return sentence
}
