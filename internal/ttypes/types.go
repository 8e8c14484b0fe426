// Package ttypes contains shared types and interfaces for the narration pipeline.
// This package is used to break import cycles between tts, engines, audio, and queue packages.
package ttypes

import (
	"context"
	"encoding/binary"
	"time"
)

// EngineType represents the speech synthesis engine selection
type EngineType string

const (
	// EngineOpenAI synthesizes speech with the OpenAI speech endpoint
	EngineOpenAI EngineType = "openai"

	// EngineHTTP posts sentences to a generic speech endpoint (e.g. a CORS relay)
	EngineHTTP EngineType = "http"

	// EngineTone generates an offline tone per sentence, useful for demos and tests
	EngineTone EngineType = "tone"

	// EngineNone represents no engine selected (text only)
	EngineNone EngineType = ""
)

// State represents the current playback state of the ordered queue
type State int

const (
	// StateIdle indicates nothing is sounding
	StateIdle State = iota

	// StatePlaying indicates a buffer is sounding
	StatePlaying

	// StateStopped indicates an explicit stop happened and no submit arrived since
	StateStopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sentence represents one narratable sentence extracted from streamed text
type Sentence struct {
	// Sequence is the gapless, strictly increasing number assigned by the segmenter
	Sequence int

	// Text is the sentence content including its trailing delimiter
	Text string

	// CacheKey is the computed synthesis cache key for this sentence
	CacheKey string

	// KnownAt is when the sentence text became available
	KnownAt time.Time
}

// Format describes interleaved signed 16-bit PCM.
type Format struct {
	SampleRate int // Samples per second per channel
	Channels   int // 1 = mono, 2 = stereo
}

// FrameBytes returns the number of bytes in one frame (one sample per channel).
func (f Format) FrameBytes() int {
	return f.Channels * 2
}

// Buffer is a decoded, playable audio buffer.
type Buffer struct {
	Format  Format
	Samples []int16 // Interleaved samples
}

// Frames returns the number of frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || b.Format.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.Format.SampleRate)
}

// Bytes returns the samples as little-endian PCM bytes.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Blob is raw encoded audio tagged with its media type.
type Blob struct {
	MIMEType string
	Data     []byte
}

// EngineInfo describes engine capabilities and configuration.
type EngineInfo struct {
	Name        string // Engine name (e.g., "openai", "http")
	Format      string // Container of the returned bytes (e.g., "mp3", "wav")
	MaxTextSize int    // Maximum text size in characters
	IsOnline    bool   // Whether the engine requires network access
}

// Synthesizer is the external speech call: text in, encoded audio bytes out.
// It may be slow or fail; on success it returns non-empty bytes.
type Synthesizer interface {
	// Synthesize converts text to encoded audio.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// GetInfo returns engine capabilities and configuration.
	GetInfo() EngineInfo

	// Validate checks if the engine is properly configured.
	Validate() error

	// Close releases any resources held by the engine.
	Close() error
}

// AudioDecoder is the decode primitive the pipeline's strategy chain is built on.
type AudioDecoder interface {
	// Decode sniffs the container and decodes to the output format.
	Decode(ctx context.Context, data []byte) (*Buffer, error)

	// DecodeBlob decodes using the blob's declared media type.
	DecodeBlob(ctx context.Context, blob Blob) (*Buffer, error)
}

// DeviceState is the suspend/resume lifecycle state of an output device.
type DeviceState int

const (
	// DeviceRunning means buffers start sounding immediately
	DeviceRunning DeviceState = iota

	// DeviceSuspended means the device must be resumed before playback
	DeviceSuspended

	// DeviceClosed means the device can no longer play
	DeviceClosed
)

// String returns the string representation of the device state
func (s DeviceState) String() string {
	switch s {
	case DeviceRunning:
		return "running"
	case DeviceSuspended:
		return "suspended"
	case DeviceClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Voice is a live playback resource for one buffer.
type Voice interface {
	// Stop silences the voice and releases it. onEnded is not called after Stop.
	// Calling Stop more than once is a no-op.
	Stop() error
}

// OutputDevice is the serial audio output the ordered queue drives.
type OutputDevice interface {
	// Start begins sounding buf. onEnded is called once, from any goroutine,
	// when the buffer finished playing naturally.
	Start(buf *Buffer, onEnded func()) (Voice, error)

	// State returns the suspend/resume state.
	State() DeviceState

	// Resume wakes a suspended device.
	Resume(ctx context.Context) error

	// Suspend pauses the device.
	Suspend() error

	// Format returns the PCM format the device plays.
	Format() Format

	// Close releases the device.
	Close() error
}

// AudioCache defines the contract for caching synthesized audio within a session.
type AudioCache interface {
	// Get retrieves cached audio for the given key.
	Get(key string) ([]byte, bool)

	// Put stores audio data with the given key.
	Put(key string, audio []byte) error

	// Clear removes all cached entries.
	Clear() error

	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats provides cache performance metrics.
type CacheStats struct {
	Hits      int64 // Number of cache hits
	Misses    int64 // Number of cache misses
	Evictions int64 // Number of evictions
	Size      int64 // Current cache size in bytes (compressed)
	Capacity  int64 // Maximum cache capacity in bytes
	Items     int   // Number of cached entries
}
