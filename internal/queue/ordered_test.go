package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormat = ttypes.Format{SampleRate: 44100, Channels: 1}

// marked returns a buffer whose first sample identifies seq.
func marked(seq int) *ttypes.Buffer {
	return &ttypes.Buffer{Format: testFormat, Samples: []int16{int16(seq), 0, 0, 0}}
}

func startedSeqs(device *audio.MockDevice) []int {
	var seqs []int
	for _, buf := range device.Started() {
		seqs = append(seqs, int(buf.Samples[0]))
	}
	return seqs
}

func receive(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("submission was never resolved")
		return Result{}
	}
}

func assertNoSecondResult(t *testing.T, ch <-chan Result) {
	t.Helper()
	select {
	case res := <-ch:
		t.Fatalf("unexpected second result: %+v", res)
	default:
	}
}

func longStall() Config {
	return Config{StallTimeout: 5 * time.Second, ResumeTimeout: time.Second}
}

func TestOrderedQueue_InOrder(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	results := []<-chan Result{
		q.Submit(marked(0), 0),
		q.Submit(marked(1), 1),
		q.Submit(marked(2), 2),
	}

	assert.Equal(t, ttypes.StatePlaying, q.State())
	assert.Equal(t, []int{0}, startedSeqs(device), "only the first buffer sounds")

	for i := range results {
		require.True(t, device.Finish())
		res := receive(t, results[i])
		assert.Equal(t, OutcomePlayed, res.Outcome)
		assert.Equal(t, i, res.Sequence)
	}

	assert.Equal(t, []int{0, 1, 2}, startedSeqs(device))
	assert.Equal(t, ttypes.StateIdle, q.State())
	assert.Equal(t, 3, q.Stats().NextToPlay)
}

func TestOrderedQueue_OutOfOrderEndToEnd(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, DefaultConfig())

	results := map[int]<-chan Result{}
	for _, seq := range []int{2, 0, 1} {
		results[seq] = q.Submit(marked(seq), seq)
	}

	for range 3 {
		require.True(t, device.Finish())
	}

	assert.Equal(t, []int{0, 1, 2}, startedSeqs(device))
	for seq, ch := range results {
		res := receive(t, ch)
		assert.Equal(t, OutcomePlayed, res.Outcome, "seq %d", seq)
		assertNoSecondResult(t, ch)
	}
	assert.Zero(t, q.Stats().Stalls)
}

func TestOrderedQueue_StallSelfHeal(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, Config{StallTimeout: 20 * time.Millisecond})

	r2 := q.Submit(marked(2), 2)
	r3 := q.Submit(marked(3), 3)

	stats := q.Stats()
	assert.Equal(t, 0, stats.NextToPlay)
	assert.Equal(t, 2, stats.Pending)
	assert.Zero(t, device.StartCount(), "waiting for sequence 0")

	require.True(t, device.WaitStarted(1, 2*time.Second), "stall guard never fired")
	assert.Equal(t, []int{2}, startedSeqs(device))
	assert.EqualValues(t, 1, q.Stats().Stalls)

	require.True(t, device.Finish())
	require.True(t, device.Finish())
	assert.Equal(t, OutcomePlayed, receive(t, r2).Outcome)
	assert.Equal(t, OutcomePlayed, receive(t, r3).Outcome)

	// The skipped sequences arriving late are resolved immediately.
	late := receive(t, q.Submit(marked(0), 0))
	assert.Equal(t, OutcomeSkipped, late.Outcome)
	assert.Equal(t, []int{2, 3}, startedSeqs(device))
}

func TestOrderedQueue_EagerStallGuard(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, Config{StallTimeout: 0})

	q.Submit(marked(2), 2)
	assert.Equal(t, []int{2}, startedSeqs(device))
	assert.Equal(t, 3, q.Stats().NextToPlay)
	assert.EqualValues(t, 1, q.Stats().Stalls)
}

func TestOrderedQueue_AtMostOnePlaying(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	device.AutoFinish = time.Millisecond
	q := NewOrderedQueue(device, longStall())

	const n = 20
	order := rand.Perm(n)

	var wg sync.WaitGroup
	results := make([]<-chan Result, n)
	var mu sync.Mutex
	for _, seq := range order {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			ch := q.Submit(marked(seq), seq)
			mu.Lock()
			results[seq] = ch
			mu.Unlock()
		}(seq)
	}
	wg.Wait()

	for seq, ch := range results {
		res := receive(t, ch)
		assert.Equal(t, OutcomePlayed, res.Outcome, "seq %d", seq)
	}

	assert.Equal(t, 1, device.MaxConcurrent())
	played := startedSeqs(device)
	require.Len(t, played, n)
	for i, seq := range played {
		assert.Equal(t, i, seq)
	}
}

func TestOrderedQueue_StopIdempotent(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	assertClean := func() {
		t.Helper()
		stats := q.Stats()
		assert.Equal(t, 0, stats.NextToPlay)
		assert.Zero(t, stats.Pending)
		assert.Zero(t, stats.Queued)
		assert.Equal(t, ttypes.StateStopped, q.State())
		assert.Zero(t, device.Playing())
	}

	// Idle
	q.Stop()
	assertClean()

	// Mid-playback with a backlog and a gap
	r0 := q.Submit(marked(0), 0)
	r1 := q.Submit(marked(1), 1)
	r5 := q.Submit(marked(5), 5)
	require.Equal(t, 1, device.Playing())

	q.Stop()
	assertClean()
	for _, ch := range []<-chan Result{r0, r1, r5} {
		assert.Equal(t, OutcomeStopped, receive(t, ch).Outcome)
		assertNoSecondResult(t, ch)
	}
	assert.EqualValues(t, 1, device.StopCount())

	// Twice in a row
	q.Stop()
	assertClean()

	// Reusable after stop; sequence numbering restarts at 0.
	r := q.Submit(marked(0), 0)
	assert.Equal(t, ttypes.StatePlaying, q.State())
	require.True(t, device.Finish())
	assert.Equal(t, OutcomePlayed, receive(t, r).Outcome)
	assert.Equal(t, ttypes.StateIdle, q.State())
}

func TestOrderedQueue_StoppedVoiceEndIsIgnored(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	q.Submit(marked(0), 0)
	q.Stop()

	// A new round must not be advanced by anything from the old one.
	r := q.Submit(marked(0), 0)
	assert.Equal(t, 1, device.Playing())
	require.True(t, device.Finish())
	assert.Equal(t, OutcomePlayed, receive(t, r).Outcome)
}

func TestOrderedQueue_StopAtMovesCursor(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	r0 := q.Submit(marked(0), 0)
	q.StopAt(3)
	assert.Equal(t, OutcomeStopped, receive(t, r0).Outcome)
	assert.Equal(t, 3, q.Stats().NextToPlay)

	// The first sequence of the new round plays without a stall.
	r3 := q.Submit(marked(3), 3)
	assert.Equal(t, 1, device.Playing())
	require.True(t, device.Finish())
	assert.Equal(t, OutcomePlayed, receive(t, r3).Outcome)
	assert.Zero(t, q.Stats().Stalls)

	// Sequences from before the new round are already passed.
	assert.Equal(t, OutcomeSkipped, receive(t, q.Submit(marked(2), 2)).Outcome)
	assert.Equal(t, []int{0, 3}, startedSeqs(device))
}

func TestOrderedQueue_SubmitRoundDiscardsStaleAudio(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	round := q.Round()
	q.Stop()
	assert.NotEqual(t, round, q.Round())

	res := receive(t, q.SubmitRound(round, marked(0), 0))
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Zero(t, device.StartCount())

	stats := q.Stats()
	assert.EqualValues(t, 1, stats.Discarded)
	assert.Zero(t, stats.Submitted)
	assert.Zero(t, stats.NextToPlay)
	assert.Equal(t, ttypes.StateStopped, q.State())

	// Audio from the current round plays normally.
	r := q.SubmitRound(q.Round(), marked(0), 0)
	assert.Equal(t, 1, device.Playing())
	require.True(t, device.Finish())
	assert.Equal(t, OutcomePlayed, receive(t, r).Outcome)
}

func TestOrderedQueue_SkipAndReplace(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	first := q.Submit(marked(1), 1)
	second := q.Submit(marked(1), 1)
	assert.Equal(t, OutcomeReplaced, receive(t, first).Outcome)

	r0 := q.Submit(marked(0), 0)
	require.True(t, device.Finish())
	require.True(t, device.Finish())
	assert.Equal(t, OutcomePlayed, receive(t, r0).Outcome)
	assert.Equal(t, OutcomePlayed, receive(t, second).Outcome)

	dup := receive(t, q.Submit(marked(0), 0))
	assert.Equal(t, OutcomeSkipped, dup.Outcome)

	stats := q.Stats()
	assert.EqualValues(t, 1, stats.Replaced)
	assert.EqualValues(t, 1, stats.Skipped)
	assert.EqualValues(t, 2, stats.Played)
}

func TestOrderedQueue_StartFailureMovesOn(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	device.StartErr = errors.New("device busy")
	r0 := q.Submit(marked(0), 0)
	res := receive(t, r0)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)

	device.StartErr = nil
	r1 := q.Submit(marked(1), 1)
	require.True(t, device.Finish())
	assert.Equal(t, OutcomePlayed, receive(t, r1).Outcome)
}

func TestOrderedQueue_ResumesSuspendedDevice(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	device.SetSuspended()
	q := NewOrderedQueue(device, longStall())

	q.Submit(marked(0), 0)

	assert.EqualValues(t, 1, device.ResumeCount())
	assert.Equal(t, ttypes.DeviceRunning, device.State())
	assert.EqualValues(t, 1, device.StartCount())
}

func TestOrderedQueue_StopDuringResume(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	device.SetSuspended()
	device.ResumeDelay = 50 * time.Millisecond
	q := NewOrderedQueue(device, longStall())

	var wg sync.WaitGroup
	wg.Add(1)
	var res <-chan Result
	go func() {
		defer wg.Done()
		res = q.Submit(marked(0), 0)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()
	wg.Wait()

	assert.Equal(t, OutcomeStopped, receive(t, res).Outcome)
	assert.Zero(t, device.StartCount(), "start must be cancelled by stop")
}

func TestOrderedQueue_PlayContext(t *testing.T) {
	device := audio.NewMockDevice(testFormat)
	q := NewOrderedQueue(device, longStall())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Play(ctx, marked(4), 4)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	q.Stop()
}
