package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/ebitengine/oto/v3"
)

var (
	// ErrDeviceClosed is returned when starting playback on a closed device
	ErrDeviceClosed = errors.New("audio device is closed")

	// ErrFormatMismatch is returned when a buffer does not match the device format
	ErrFormatMismatch = errors.New("buffer format does not match device format")

	// ErrEmptyBuffer is returned when starting playback of an empty buffer
	ErrEmptyBuffer = errors.New("audio buffer is empty")
)

// DeviceConfig contains configuration for the output device.
type DeviceConfig struct {
	SampleRate   int           // 44100 or 48000 Hz
	Channels     int           // 1 = mono, 2 = stereo
	BufferSize   time.Duration // oto buffer; 0 uses the platform default
	Volume       float64       // 0.0 to 1.0
	PollInterval time.Duration // How often a voice checks for its natural end
}

// DefaultDeviceConfig returns the default device configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate:   44100, // CD quality
		Channels:     1,     // Mono for TTS
		Volume:       1.0,
		PollInterval: 10 * time.Millisecond,
	}
}

// Device implements ttypes.OutputDevice on top of an oto context.
// oto allows a single context per process, so create one Device and share it.
type Device struct {
	context *oto.Context
	format  ttypes.Format
	volume  float64
	poll    time.Duration

	mu    sync.Mutex
	state ttypes.DeviceState

	logger *log.Logger
}

// NewDevice opens the audio device with the specified configuration.
func NewDevice(config DeviceConfig) (*Device, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE, // 16-bit little endian
		BufferSize:   config.BufferSize,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-readyChan

	poll := config.PollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}

	d := &Device{
		context: ctx,
		format:  ttypes.Format{SampleRate: config.SampleRate, Channels: config.Channels},
		volume:  config.Volume,
		poll:    poll,
		state:   ttypes.DeviceRunning,
		logger:  log.Default().WithPrefix("audio"),
	}

	d.logger.Debug("Audio device ready",
		"sample_rate", config.SampleRate,
		"channels", config.Channels)
	return d, nil
}

// validateConfig validates the device configuration.
func validateConfig(config DeviceConfig) error {
	// OTO only supports specific sample rates reliably
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.Volume < 0.0 || config.Volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", config.Volume)
	}

	return nil
}

// Start begins playback of buf and calls onEnded when it drains.
func (d *Device) Start(buf *ttypes.Buffer, onEnded func()) (ttypes.Voice, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, ErrEmptyBuffer
	}
	if buf.Format != d.format {
		return nil, fmt.Errorf("%w: got %+v, want %+v", ErrFormatMismatch, buf.Format, d.format)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == ttypes.DeviceClosed {
		return nil, ErrDeviceClosed
	}

	// CRITICAL: the voice keeps the PCM alive until the player is closed.
	data := buf.Bytes()
	player := d.context.NewPlayer(bytes.NewReader(data))
	player.SetVolume(d.volume)

	v := &voice{
		player: player,
		data:   data,
	}

	player.Play()
	go v.watch(d.poll, onEnded)

	return v, nil
}

// State returns the suspend/resume state.
func (d *Device) State() ttypes.DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Resume wakes a suspended device.
func (d *Device) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case ttypes.DeviceClosed:
		return ErrDeviceClosed
	case ttypes.DeviceRunning:
		return nil
	}

	if err := d.context.Resume(); err != nil {
		return fmt.Errorf("failed to resume audio context: %w", err)
	}
	d.state = ttypes.DeviceRunning
	d.logger.Debug("Audio device resumed")
	return nil
}

// Suspend pauses all output until Resume.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case ttypes.DeviceClosed:
		return ErrDeviceClosed
	case ttypes.DeviceSuspended:
		return nil
	}

	if err := d.context.Suspend(); err != nil {
		return fmt.Errorf("failed to suspend audio context: %w", err)
	}
	d.state = ttypes.DeviceSuspended
	d.logger.Debug("Audio device suspended")
	return nil
}

// Format returns the PCM format the device plays.
func (d *Device) Format() ttypes.Format {
	return d.format
}

// Close marks the device closed. oto.Context has no Close in v3; the
// context is released when no longer referenced.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = ttypes.DeviceClosed
	return nil
}

// voice is one sounding oto player.
type voice struct {
	player *oto.Player
	data   []byte // Must stay alive during playback!

	once sync.Once
}

// release closes the player. It reports whether this call did the release.
func (v *voice) release() bool {
	first := false
	v.once.Do(func() {
		first = true
		v.player.Pause()
		_ = v.player.Close()
		v.data = nil
	})
	return first
}

// Stop silences the voice; onEnded will not fire afterwards.
func (v *voice) Stop() error {
	v.release()
	return nil
}

// watch polls the player until it drains, then reports the natural end.
func (v *voice) watch(interval time.Duration, onEnded func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if v.player.IsPlaying() {
			continue
		}
		if v.release() && onEnded != nil {
			onEnded()
		}
		return
	}
}
