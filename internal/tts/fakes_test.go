package tts

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dgnsrekt/narrate/internal/ttypes"
)

var testFormat = ttypes.Format{SampleRate: 44100, Channels: 1}

// markerOf reads the sentence number embedded in synthesized bytes such as "s12。".
func markerOf(data []byte) (int, bool) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, string(data))
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

func markedBuffer(n int) *ttypes.Buffer {
	return &ttypes.Buffer{Format: testFormat, Samples: []int16{int16(n), 1, 1, 1}}
}

// fakeSynth echoes the sentence text as its audio bytes.
type fakeSynth struct {
	mu     sync.Mutex
	calls  []string
	delays map[string]time.Duration
	fails  map[string]error
	called chan string
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{
		delays: make(map[string]time.Duration),
		fails:  make(map[string]error),
		called: make(chan string, 64),
	}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	delay := f.delays[text]
	err := f.fails[text]
	f.mu.Unlock()

	select {
	case f.called <- text:
	default:
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

func (f *fakeSynth) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSynth) GetInfo() ttypes.EngineInfo {
	return ttypes.EngineInfo{Name: "fake", Format: "txt"}
}

func (f *fakeSynth) Validate() error { return nil }
func (f *fakeSynth) Close() error    { return nil }

// fakePrimitive decodes marker bytes into marked buffers. Hooks override
// each entry point.
type fakePrimitive struct {
	mu     sync.Mutex
	decode func(call int, data []byte) (*ttypes.Buffer, error)
	blob   func(blob ttypes.Blob) (*ttypes.Buffer, error)

	decodeCalls int
	blobs       []ttypes.Blob
}

var errNotAudio = errors.New("not audio")

func markerDecode(data []byte) (*ttypes.Buffer, error) {
	n, ok := markerOf(data)
	if !ok {
		return nil, errNotAudio
	}
	return markedBuffer(n), nil
}

func (f *fakePrimitive) Decode(ctx context.Context, data []byte) (*ttypes.Buffer, error) {
	f.mu.Lock()
	call := f.decodeCalls
	f.decodeCalls++
	hook := f.decode
	f.mu.Unlock()

	if hook != nil {
		return hook(call, data)
	}
	return markerDecode(data)
}

func (f *fakePrimitive) DecodeBlob(ctx context.Context, blob ttypes.Blob) (*ttypes.Buffer, error) {
	f.mu.Lock()
	f.blobs = append(f.blobs, blob)
	hook := f.blob
	f.mu.Unlock()

	if hook != nil {
		return hook(blob)
	}
	return markerDecode(blob.Data)
}
