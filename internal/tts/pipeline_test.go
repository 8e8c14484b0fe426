package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/tts/engines"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	config := DefaultConfig()
	config.Engine = ttypes.EngineTone
	config.InterCallDelay = 0
	config.TextToAudioDelay = 0
	config.CacheSize = 0
	return config
}

func newTestPipeline(t *testing.T, config Config, synth ttypes.Synthesizer, audioCache ttypes.AudioCache) (*Pipeline, *audio.MockDevice) {
	t.Helper()
	device := audio.NewMockDevice(testFormat)
	device.AutoFinish = time.Millisecond

	p, err := NewPipeline(config, synth, &fakePrimitive{}, device, audioCache)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, device
}

func waitIdle(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func playedMarkers(device *audio.MockDevice) []int {
	var out []int
	for _, buf := range device.Started() {
		out = append(out, int(buf.Samples[0]))
	}
	return out
}

func TestPipeline_NarratesInOrder(t *testing.T) {
	synth := newFakeSynth()
	p, device := newTestPipeline(t, testConfig(), synth, nil)

	for _, chunk := range []string{"s0", "。s1。", "s2。"} {
		require.NoError(t, p.Feed(chunk))
	}
	require.NoError(t, p.Finish())
	waitIdle(t, p)

	assert.Equal(t, []int{0, 1, 2}, playedMarkers(device))
	assert.ElementsMatch(t, []string{"s0。", "s1。", "s2。"}, synth.Calls())

	stats := p.Stats()
	assert.EqualValues(t, 3, stats.Sentences)
	assert.EqualValues(t, 3, stats.Synthesized)
	assert.EqualValues(t, 3, stats.Played)
	assert.Equal(t, 1, device.MaxConcurrent())
	assert.NotEmpty(t, stats.SessionID)
}

func TestPipeline_ReordersConcurrentSynthesis(t *testing.T) {
	config := testConfig()
	config.MaxConcurrentSynthesis = 3

	synth := newFakeSynth()
	synth.delays["s0。"] = 60 * time.Millisecond
	p, device := newTestPipeline(t, config, synth, nil)

	for _, chunk := range []string{"s0。", "s1。", "s2。"} {
		require.NoError(t, p.Feed(chunk))
	}
	waitIdle(t, p)

	assert.Equal(t, []int{0, 1, 2}, playedMarkers(device))
	assert.Equal(t, 1, device.MaxConcurrent(), "only one sentence sounds at a time")
	assert.Zero(t, p.Stats().Queue.Stalls)
}

func TestPipeline_SynthesisFailureHealsByStall(t *testing.T) {
	config := testConfig()
	config.StallTimeout = 30 * time.Millisecond

	synth := newFakeSynth()
	synth.fails["s1。"] = errors.New("HTTP 500")
	p, device := newTestPipeline(t, config, synth, nil)

	for _, chunk := range []string{"s0。", "s1。", "s2。"} {
		require.NoError(t, p.Feed(chunk))
	}
	waitIdle(t, p)

	assert.Equal(t, []int{0, 2}, playedMarkers(device))

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.SynthesisErrors)
	assert.EqualValues(t, 2, stats.Played)
	assert.EqualValues(t, 1, stats.Queue.Stalls)
}

func TestPipeline_DecodeFailureDropsSentence(t *testing.T) {
	config := testConfig()
	config.StallTimeout = 0

	device := audio.NewMockDevice(testFormat)
	device.AutoFinish = time.Millisecond
	primitive := &fakePrimitive{
		decode: func(_ int, data []byte) (*ttypes.Buffer, error) {
			if string(data) == "s0。" {
				return nil, errNotAudio
			}
			return markerDecode(data)
		},
		blob: func(blob ttypes.Blob) (*ttypes.Buffer, error) {
			if string(blob.Data) == "s0。" {
				return nil, errNotAudio
			}
			return markerDecode(blob.Data)
		},
	}

	p, err := NewPipeline(config, newFakeSynth(), primitive, device, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Feed("s0。"))
	require.NoError(t, p.Feed("s1。"))
	waitIdle(t, p)

	assert.Equal(t, []int{1}, playedMarkers(device))
	assert.EqualValues(t, 1, p.Stats().DecodeErrors)
}

func TestPipeline_DisplayOffStopsNarration(t *testing.T) {
	synth := newFakeSynth()
	p, device := newTestPipeline(t, testConfig(), synth, nil)

	p.SetDisplayText(false)
	assert.False(t, p.DisplayText())

	require.NoError(t, p.Feed("s0。"))
	require.NoError(t, p.Finish())
	waitIdle(t, p)

	assert.Empty(t, synth.Calls())
	assert.Zero(t, device.StartCount())
	assert.Equal(t, ttypes.StateStopped, p.State())
}

func TestPipeline_StopDiscardsInFlightAudio(t *testing.T) {
	synth := newFakeSynth()
	synth.delays["s0。"] = 80 * time.Millisecond
	p, device := newTestPipeline(t, testConfig(), synth, nil)

	require.NoError(t, p.Feed("s0。"))
	select {
	case <-synth.called:
	case <-time.After(2 * time.Second):
		t.Fatal("synthesis never started")
	}

	p.Stop()
	waitIdle(t, p)

	assert.Zero(t, device.StartCount(), "audio from before the stop must not play")
	assert.EqualValues(t, 1, p.Stats().Discarded)
}

func TestPipeline_NarratesAtOnceAfterStop(t *testing.T) {
	config := testConfig()
	config.StallTimeout = 5 * time.Second

	synth := newFakeSynth()
	p, device := newTestPipeline(t, config, synth, nil)

	require.NoError(t, p.Feed("s0。"))
	require.NoError(t, p.Feed("s1。"))
	waitIdle(t, p)

	p.Stop()
	require.NoError(t, p.Feed("s2。"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx), "the first sentence after a stop must not wait on a gap")

	assert.Equal(t, []int{0, 1, 2}, playedMarkers(device))
	stats := p.Stats()
	assert.EqualValues(t, 3, stats.Played)
	assert.Zero(t, stats.Queue.Stalls)
}

func TestPipeline_ResetRestartsNumbering(t *testing.T) {
	config := testConfig()
	config.StallTimeout = 5 * time.Second

	synth := newFakeSynth()
	p, device := newTestPipeline(t, config, synth, nil)

	require.NoError(t, p.Feed("s0。"))
	waitIdle(t, p)

	p.Reset()
	require.NoError(t, p.Feed("s7。"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	assert.Equal(t, []int{0, 7}, playedMarkers(device))
	assert.Zero(t, p.Stats().Queue.Stalls)
}

func TestPipeline_StopSilencesPlayback(t *testing.T) {
	synth := newFakeSynth()
	p, device := newTestPipeline(t, testConfig(), synth, nil)
	device.AutoFinish = 0

	require.NoError(t, p.Feed("s0。"))
	require.True(t, device.WaitStarted(1, 2*time.Second))

	p.Stop()
	p.Stop()
	waitIdle(t, p)

	assert.EqualValues(t, 1, device.StopCount())
	assert.EqualValues(t, 1, p.Stats().Stopped)
	assert.Equal(t, ttypes.StateStopped, p.State())
}

func TestPipeline_CacheServesRepeatedSentence(t *testing.T) {
	memory, err := cache.NewMemoryCache(1<<20, 1)
	require.NoError(t, err)
	defer memory.Close()

	synth := newFakeSynth()
	p, device := newTestPipeline(t, testConfig(), synth, memory)

	require.NoError(t, p.Feed("s4。"))
	waitIdle(t, p)

	p.Reset()
	require.NoError(t, p.Feed("s4。"))
	waitIdle(t, p)

	assert.Len(t, synth.Calls(), 1)
	assert.Equal(t, []int{4, 4}, playedMarkers(device))

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.CacheHits)
	assert.EqualValues(t, 1, stats.Cache.Items)
}

func TestPipeline_AudioTrailsText(t *testing.T) {
	const delay = 80 * time.Millisecond

	config := testConfig()
	config.TextToAudioDelay = delay
	p, device := newTestPipeline(t, config, newFakeSynth(), nil)

	var (
		mu      sync.Mutex
		started time.Time
	)
	device.SetCallbacks(audio.MockCallbacks{
		OnStart: func(*ttypes.Buffer) {
			mu.Lock()
			started = time.Now()
			mu.Unlock()
		},
	})

	fed := time.Now()
	require.NoError(t, p.Feed("s0。"))
	waitIdle(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, started.Sub(fed), delay)
}

func TestPipeline_SilentSentenceKeepsOrder(t *testing.T) {
	synth := newFakeSynth()
	p, device := newTestPipeline(t, testConfig(), synth, nil)

	require.NoError(t, p.Feed("![](x.png)。"))
	require.NoError(t, p.Feed("s1。"))
	waitIdle(t, p)

	assert.Equal(t, []string{"s1。"}, synth.Calls())

	started := device.Started()
	require.Len(t, started, 2)
	assert.Len(t, started[0].Samples, 2205, "50ms of silence at 44.1kHz")
	assert.EqualValues(t, 1, started[1].Samples[0])
	assert.EqualValues(t, 1, p.Stats().Silent)
	assert.Zero(t, p.Stats().Queue.Stalls)
}

func TestPipeline_FlushTail(t *testing.T) {
	config := testConfig()
	config.FlushTail = true

	synth := newFakeSynth()
	p, device := newTestPipeline(t, config, synth, nil)

	require.NoError(t, p.Feed("s0。s1 without end"))
	assert.Equal(t, "s1 without end", p.Pending())
	require.NoError(t, p.Finish())
	waitIdle(t, p)

	assert.ElementsMatch(t, []string{"s0。", "s1 without end"}, synth.Calls())
	assert.Equal(t, []int{0, 1}, playedMarkers(device))
}

func TestPipeline_TailHeldWithoutFlush(t *testing.T) {
	synth := newFakeSynth()
	p, _ := newTestPipeline(t, testConfig(), synth, nil)

	require.NoError(t, p.Feed("s0。s1。s2 partial"))
	require.NoError(t, p.Finish())
	waitIdle(t, p)

	assert.ElementsMatch(t, []string{"s0。", "s1。"}, synth.Calls())
	assert.Equal(t, "s2 partial", p.Pending())
}

func TestPipeline_Closed(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(), newFakeSynth(), nil)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Feed("s0。"), ErrPipelineClosed)
	assert.ErrorIs(t, p.Finish(), ErrPipelineClosed)
}

func TestPipeline_ToneEngineEndToEnd(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	device.AutoFinish = time.Millisecond

	tone := engines.NewToneEngine(engines.ToneConfig{PerRune: 10 * time.Millisecond})
	p, err := NewPipeline(testConfig(), tone, audio.NewCodec(device.Format()), device, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Feed("Hello there。General **Kenobi**。"))
	require.NoError(t, p.Finish())
	waitIdle(t, p)

	started := device.Started()
	require.Len(t, started, 2)
	for _, buf := range started {
		assert.Equal(t, testFormat, buf.Format)
		assert.GreaterOrEqual(t, buf.Duration(), 140*time.Millisecond)
	}
	assert.EqualValues(t, 2, p.Stats().Played)
}

func TestNewPipeline_Errors(t *testing.T) {
	device := audio.NewMockDevice(testFormat)

	_, err := NewPipeline(testConfig(), nil, &fakePrimitive{}, device, nil)
	assert.ErrorIs(t, err, ErrNoEngineConfigured)

	config := testConfig()
	config.MaxConcurrentSynthesis = 0
	_, err = NewPipeline(config, newFakeSynth(), &fakePrimitive{}, device, nil)
	var ttsErr *TTSError
	require.ErrorAs(t, err, &ttsErr)
	assert.Equal(t, ErrorCodeInvalidInput, ttsErr.Code)

	_, err = NewPipeline(testConfig(), newFakeSynth(), nil, device, nil)
	assert.Error(t, err)
	_, err = NewPipeline(testConfig(), newFakeSynth(), &fakePrimitive{}, nil, nil)
	assert.Error(t, err)
}
