package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// MockDevice implements ttypes.OutputDevice for testing purposes.
// It simulates playback without producing sound. By default a voice only
// ends when the test calls Finish; set AutoFinish to end voices on a timer.
type MockDevice struct {
	format ttypes.Format

	// Test configuration
	AutoFinish  time.Duration // 0 = manual Finish only
	ResumeDelay time.Duration
	StartErr    error // returned by Start when set
	ResumeErr   error // returned by Resume when set

	// Test callbacks
	callbacks MockCallbacks

	mu      sync.Mutex
	state   ttypes.DeviceState
	voices  []*mockVoice
	started []*ttypes.Buffer

	// Metrics for testing
	playing       atomic.Int32
	maxConcurrent atomic.Int32
	startCount    atomic.Int64
	stopCount     atomic.Int64
	resumeCount   atomic.Int64
}

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnStart  func(buf *ttypes.Buffer)
	OnEnd    func(buf *ttypes.Buffer)
	OnStop   func(buf *ttypes.Buffer)
	OnResume func()
}

// NewMockDevice creates a running mock device in the given format.
func NewMockDevice(format ttypes.Format) *MockDevice {
	return &MockDevice{
		format: format,
		state:  ttypes.DeviceRunning,
	}
}

// DefaultMockDevice creates a mock device at 44.1 kHz mono.
func DefaultMockDevice() *MockDevice {
	return NewMockDevice(ttypes.Format{SampleRate: 44100, Channels: 1})
}

// SetCallbacks sets test callbacks.
func (m *MockDevice) SetCallbacks(callbacks MockCallbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = callbacks
}

// SetSuspended puts the device into the suspended state.
func (m *MockDevice) SetSuspended() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ttypes.DeviceSuspended
}

// Start records buf and returns a voice that ends on Finish or AutoFinish.
func (m *MockDevice) Start(buf *ttypes.Buffer, onEnded func()) (ttypes.Voice, error) {
	m.mu.Lock()
	if m.StartErr != nil {
		err := m.StartErr
		m.mu.Unlock()
		return nil, err
	}
	if m.state == ttypes.DeviceClosed {
		m.mu.Unlock()
		return nil, ErrDeviceClosed
	}
	if buf == nil || len(buf.Samples) == 0 {
		m.mu.Unlock()
		return nil, ErrEmptyBuffer
	}

	v := &mockVoice{device: m, buf: buf, onEnded: onEnded}
	m.voices = append(m.voices, v)
	m.started = append(m.started, buf)
	onStart := m.callbacks.OnStart
	auto := m.AutoFinish
	m.mu.Unlock()

	m.startCount.Add(1)
	now := m.playing.Add(1)
	for {
		peak := m.maxConcurrent.Load()
		if now <= peak || m.maxConcurrent.CompareAndSwap(peak, now) {
			break
		}
	}

	if onStart != nil {
		onStart(buf)
	}

	if auto > 0 {
		time.AfterFunc(auto, func() { v.end() })
	}
	return v, nil
}

// Finish ends the oldest sounding voice naturally. It reports whether a
// voice was sounding.
func (m *MockDevice) Finish() bool {
	m.mu.Lock()
	var v *mockVoice
	for _, candidate := range m.voices {
		if !candidate.done.Load() {
			v = candidate
			break
		}
	}
	m.mu.Unlock()

	if v == nil {
		return false
	}
	return v.end()
}

// WaitStarted blocks until at least n buffers have been started or the timeout expires.
func (m *MockDevice) WaitStarted(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.StartCount() >= int64(n) {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return m.StartCount() >= int64(n)
}

// Started returns the buffers handed to Start, in start order.
func (m *MockDevice) Started() []*ttypes.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ttypes.Buffer(nil), m.started...)
}

// State returns the suspend/resume state.
func (m *MockDevice) State() ttypes.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Resume wakes the device after ResumeDelay.
func (m *MockDevice) Resume(ctx context.Context) error {
	m.mu.Lock()
	delay := m.ResumeDelay
	resumeErr := m.ResumeErr
	onResume := m.callbacks.OnResume
	m.mu.Unlock()

	m.resumeCount.Add(1)

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if resumeErr != nil {
		return resumeErr
	}

	m.mu.Lock()
	if m.state == ttypes.DeviceClosed {
		m.mu.Unlock()
		return ErrDeviceClosed
	}
	m.state = ttypes.DeviceRunning
	m.mu.Unlock()

	if onResume != nil {
		onResume()
	}
	return nil
}

// Suspend pauses the device.
func (m *MockDevice) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ttypes.DeviceClosed {
		return ErrDeviceClosed
	}
	m.state = ttypes.DeviceSuspended
	return nil
}

// Format returns the mock PCM format.
func (m *MockDevice) Format() ttypes.Format {
	return m.format
}

// Close stops all voices and closes the device.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	voices := append([]*mockVoice(nil), m.voices...)
	m.state = ttypes.DeviceClosed
	m.mu.Unlock()

	var errs []error
	for _, v := range voices {
		errs = append(errs, v.Stop())
	}
	return errors.Join(errs...)
}

// Playing returns the number of voices currently sounding.
func (m *MockDevice) Playing() int {
	return int(m.playing.Load())
}

// MaxConcurrent returns the highest number of voices that sounded at once.
func (m *MockDevice) MaxConcurrent() int {
	return int(m.maxConcurrent.Load())
}

// StartCount returns how many buffers were started.
func (m *MockDevice) StartCount() int64 {
	return m.startCount.Load()
}

// StopCount returns how many voices were stopped explicitly.
func (m *MockDevice) StopCount() int64 {
	return m.stopCount.Load()
}

// ResumeCount returns how many times Resume was called.
func (m *MockDevice) ResumeCount() int64 {
	return m.resumeCount.Load()
}

// mockVoice is one simulated sounding buffer.
type mockVoice struct {
	device  *MockDevice
	buf     *ttypes.Buffer
	onEnded func()
	done    atomic.Bool
}

// end finishes the voice naturally and fires onEnded once.
func (v *mockVoice) end() bool {
	if !v.done.CompareAndSwap(false, true) {
		return false
	}
	v.device.playing.Add(-1)

	v.device.mu.Lock()
	onEnd := v.device.callbacks.OnEnd
	v.device.mu.Unlock()
	if onEnd != nil {
		onEnd(v.buf)
	}

	if v.onEnded != nil {
		v.onEnded()
	}
	return true
}

// Stop silences the voice without calling onEnded.
func (v *mockVoice) Stop() error {
	if !v.done.CompareAndSwap(false, true) {
		return nil
	}
	v.device.playing.Add(-1)
	v.device.stopCount.Add(1)

	v.device.mu.Lock()
	onStop := v.device.callbacks.OnStop
	v.device.mu.Unlock()
	if onStop != nil {
		onStop(v.buf)
	}
	return nil
}
