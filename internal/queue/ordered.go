package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// Outcome describes how a submission was resolved.
type Outcome int

const (
	// OutcomePlayed means the buffer finished playing naturally
	OutcomePlayed Outcome = iota

	// OutcomeSkipped means the queue had already moved past the sequence
	OutcomeSkipped

	// OutcomeStopped means the buffer was discarded by Stop
	OutcomeStopped

	// OutcomeReplaced means a later submit for the same sequence took its place
	OutcomeReplaced

	// OutcomeFailed means the output device refused to start the buffer
	OutcomeFailed

	// OutcomeDiscarded means the buffer belonged to a round ended by Stop
	OutcomeDiscarded
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomePlayed:
		return "played"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeStopped:
		return "stopped"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Result is delivered exactly once per submission.
type Result struct {
	Sequence int
	Outcome  Outcome
	Err      error // Set for OutcomeFailed
}

// StallError records a stall recovery. It is only logged.
type StallError struct {
	Expected int   // Sequence the queue was waiting for
	JumpedTo int   // Smallest pending sequence
	Pending  []int // Sorted pending sequences at recovery time
}

func (e *StallError) Error() string {
	return fmt.Sprintf("playback stalled waiting for sequence %d, skipping to %d (pending %v)",
		e.Expected, e.JumpedTo, e.Pending)
}

// Config contains ordered queue configuration.
type Config struct {
	// StallTimeout is how long a gap in front of pending buffers may persist
	// before the queue skips it. 0 skips immediately.
	StallTimeout time.Duration

	// ResumeTimeout bounds waking a suspended device before playback.
	ResumeTimeout time.Duration
}

// DefaultConfig returns the default ordered queue configuration.
func DefaultConfig() Config {
	return Config{
		StallTimeout:  3 * time.Second,
		ResumeTimeout: 5 * time.Second,
	}
}

// Stats tracks ordered queue metrics
type Stats struct {
	Submitted  int64
	Played     int64
	Skipped    int64
	Stopped    int64
	Replaced   int64
	Failed     int64
	Discarded  int64 // Submitted for a round that had already been stopped
	Stalls     int64
	Pending    int // Buffers waiting for their turn
	Queued     int // Buffers cleared for playback, including the sounding one
	NextToPlay int
}

// item is a submitted buffer waiting to be resolved.
type item struct {
	seq  int
	buf  *ttypes.Buffer
	done chan Result
}

func (it *item) resolve(outcome Outcome, err error) {
	// Buffered with capacity 1 and resolved exactly once.
	it.done <- Result{Sequence: it.seq, Outcome: outcome, Err: err}
}

// OrderedQueue plays decoded buffers strictly in sequence order, whatever
// order they are submitted in. Buffers wait in a pending map until the
// cursor reaches them; a persistent gap is skipped by the stall guard.
type OrderedQueue struct {
	device ttypes.OutputDevice
	config Config
	logger *log.Logger

	mu         sync.Mutex
	pending    map[int]*item
	playQueue  []*item
	nextToPlay int
	playing    bool
	stopped    bool
	active     ttypes.Voice

	// generation invalidates callbacks and timers from before a Stop
	generation uint64

	stallTimer  *time.Timer
	stallCursor int

	stats Stats
}

// NewOrderedQueue creates an ordered queue driving device.
func NewOrderedQueue(device ttypes.OutputDevice, config Config) *OrderedQueue {
	if config.ResumeTimeout <= 0 {
		config.ResumeTimeout = DefaultConfig().ResumeTimeout
	}
	return &OrderedQueue{
		device:  device,
		config:  config,
		logger:  log.Default().WithPrefix("queue"),
		pending: make(map[int]*item),
	}
}

// Round identifies the current playback round. Every Stop starts a new one.
func (q *OrderedQueue) Round() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generation
}

// Submit hands buf to the queue as sequence seq. The returned channel
// receives exactly one Result.
func (q *OrderedQueue) Submit(buf *ttypes.Buffer, seq int) <-chan Result {
	q.mu.Lock()
	return q.submitLocked(buf, seq)
}

// SubmitRound is Submit for audio produced during round. If a Stop ended that
// round meanwhile, the buffer resolves with OutcomeDiscarded and never plays.
func (q *OrderedQueue) SubmitRound(round uint64, buf *ttypes.Buffer, seq int) <-chan Result {
	q.mu.Lock()
	if round != q.generation {
		q.stats.Discarded++
		q.mu.Unlock()

		q.logger.Debug("Discarding audio from a stopped round", "seq", seq)
		it := &item{seq: seq, buf: buf, done: make(chan Result, 1)}
		it.resolve(OutcomeDiscarded, nil)
		return it.done
	}
	return q.submitLocked(buf, seq)
}

// submitLocked must be called with lock held; it releases it.
func (q *OrderedQueue) submitLocked(buf *ttypes.Buffer, seq int) <-chan Result {
	it := &item{seq: seq, buf: buf, done: make(chan Result, 1)}

	q.stats.Submitted++
	q.stopped = false

	// Already passed or skipped
	if seq < q.nextToPlay {
		q.stats.Skipped++
		cursor := q.nextToPlay
		q.mu.Unlock()

		q.logger.Debug("Skipping audio before cursor", "seq", seq, "next", cursor)
		it.resolve(OutcomeSkipped, nil)
		return it.done
	}

	if old, ok := q.pending[seq]; ok {
		q.stats.Replaced++
		old.resolve(OutcomeReplaced, nil)
	}
	q.pending[seq] = it

	start := q.tryDrainLocked()
	q.mu.Unlock()

	if start {
		q.playNext()
	}
	return it.done
}

// Play submits buf and waits for its result.
func (q *OrderedQueue) Play(ctx context.Context, buf *ttypes.Buffer, seq int) (Result, error) {
	done := q.Submit(buf, seq)
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return Result{Sequence: seq}, ctx.Err()
	}
}

// tryDrainLocked moves consecutive pending buffers to the play queue and
// handles stalls. It reports whether playback should be started.
// Must be called with lock held.
func (q *OrderedQueue) tryDrainLocked() bool {
	for {
		moved := 0
		for {
			it, ok := q.pending[q.nextToPlay]
			if !ok {
				break
			}
			delete(q.pending, q.nextToPlay)
			q.playQueue = append(q.playQueue, it)
			q.nextToPlay++
			moved++
		}

		if moved > 0 || len(q.pending) == 0 {
			break
		}

		// Nothing moved but buffers are waiting behind a gap.
		if q.config.StallTimeout > 0 {
			q.armStallTimerLocked()
			break
		}
		q.skipGapLocked()
	}

	if len(q.pending) == 0 {
		q.disarmStallTimerLocked()
	} else if _, ok := q.pending[q.nextToPlay]; !ok && q.config.StallTimeout > 0 {
		q.armStallTimerLocked()
	}

	return !q.playing && len(q.playQueue) > 0
}

// skipGapLocked jumps the cursor to the smallest pending sequence.
// Must be called with lock held.
func (q *OrderedQueue) skipGapLocked() {
	keys := make([]int, 0, len(q.pending))
	for seq := range q.pending {
		keys = append(keys, seq)
	}
	slices.Sort(keys)

	stall := &StallError{Expected: q.nextToPlay, JumpedTo: keys[0], Pending: keys}
	q.logger.Warn("Queue processing stalled", "error", stall)

	q.stats.Stalls++
	q.nextToPlay = keys[0]
}

// armStallTimerLocked starts the stall timer for the current cursor unless
// it is already running for it. Must be called with lock held.
func (q *OrderedQueue) armStallTimerLocked() {
	if q.stallTimer != nil && q.stallCursor == q.nextToPlay {
		return
	}
	q.disarmStallTimerLocked()

	gen := q.generation
	cursor := q.nextToPlay
	q.stallCursor = cursor
	q.stallTimer = time.AfterFunc(q.config.StallTimeout, func() {
		q.onStallTimeout(gen, cursor)
	})
}

// disarmStallTimerLocked must be called with lock held.
func (q *OrderedQueue) disarmStallTimerLocked() {
	if q.stallTimer != nil {
		q.stallTimer.Stop()
		q.stallTimer = nil
	}
}

// onStallTimeout skips the gap if the queue is still waiting on cursor.
func (q *OrderedQueue) onStallTimeout(gen uint64, cursor int) {
	q.mu.Lock()
	if gen != q.generation || q.nextToPlay != cursor || q.stallCursor != cursor {
		q.mu.Unlock()
		return
	}
	q.stallTimer = nil

	if _, ok := q.pending[cursor]; ok || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}

	q.skipGapLocked()
	start := q.tryDrainLocked()
	q.mu.Unlock()

	if start {
		q.playNext()
	}
}

// playNext starts the front of the play queue. Buffers the device refuses
// are failed and the next one is tried.
func (q *OrderedQueue) playNext() {
	for {
		q.mu.Lock()
		if q.playing || len(q.playQueue) == 0 {
			q.mu.Unlock()
			return
		}
		q.playing = true
		it := q.playQueue[0]
		gen := q.generation
		q.mu.Unlock()

		// Resume runs off the lock; a Stop meanwhile cancels the start.
		if q.device.State() == ttypes.DeviceSuspended {
			ctx, cancel := context.WithTimeout(context.Background(), q.config.ResumeTimeout)
			if err := q.device.Resume(ctx); err != nil {
				q.logger.Warn("Failed to resume audio device", "seq", it.seq, "error", err)
			}
			cancel()
		}

		q.mu.Lock()
		if gen != q.generation {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		voice, err := q.device.Start(it.buf, func() { q.onEnded(gen, it) })

		q.mu.Lock()
		if gen != q.generation {
			// Stopped while starting
			q.mu.Unlock()
			if voice != nil {
				_ = voice.Stop()
			}
			return
		}

		if err != nil {
			if len(q.playQueue) > 0 && q.playQueue[0] == it {
				q.playQueue = q.playQueue[1:]
			}
			q.playing = false
			q.stats.Failed++
			q.mu.Unlock()

			q.logger.Error("Failed to start playback", "seq", it.seq, "error", err)
			it.resolve(OutcomeFailed, err)
			continue
		}

		// onEnded may already have fired for a very short buffer.
		if len(q.playQueue) > 0 && q.playQueue[0] == it {
			q.active = voice
		}
		q.mu.Unlock()

		q.logger.Debug("Playing audio", "seq", it.seq, "duration", it.buf.Duration())
		return
	}
}

// onEnded is called by the device when a buffer drained naturally.
func (q *OrderedQueue) onEnded(gen uint64, it *item) {
	q.mu.Lock()
	if gen != q.generation || len(q.playQueue) == 0 || q.playQueue[0] != it {
		q.mu.Unlock()
		return
	}

	q.playQueue = q.playQueue[1:]
	q.active = nil
	q.playing = false
	q.stats.Played++
	q.mu.Unlock()

	it.resolve(OutcomePlayed, nil)

	// Chain the next buffer
	q.playNext()
}

// Stop silences the sounding buffer and discards everything pending.
// Discarded submissions resolve with OutcomeStopped. Stop is idempotent.
func (q *OrderedQueue) Stop() {
	q.StopAt(0)
}

// StopAt is Stop with the cursor moved to next, the first sequence of the
// new round, so it plays without waiting on a gap.
func (q *OrderedQueue) StopAt(next int) {
	if next < 0 {
		next = 0
	}

	q.mu.Lock()
	q.generation++
	q.disarmStallTimerLocked()

	voice := q.active
	q.active = nil

	discarded := make([]*item, 0, len(q.playQueue)+len(q.pending))
	discarded = append(discarded, q.playQueue...)
	for _, it := range q.pending {
		discarded = append(discarded, it)
	}

	q.pending = make(map[int]*item)
	q.playQueue = nil
	q.playing = false
	q.nextToPlay = next
	q.stopped = true
	q.stats.Stopped += int64(len(discarded))
	q.mu.Unlock()

	if voice != nil {
		if err := voice.Stop(); err != nil {
			q.logger.Warn("Failed to stop voice", "error", err)
		}
	}

	for _, it := range discarded {
		it.resolve(OutcomeStopped, nil)
	}

	if len(discarded) > 0 {
		q.logger.Debug("Stopped playback", "discarded", len(discarded))
	}
}

// State returns the current playback state.
func (q *OrderedQueue) State() ttypes.State {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.playing:
		return ttypes.StatePlaying
	case q.stopped:
		return ttypes.StateStopped
	default:
		return ttypes.StateIdle
	}
}

// Stats returns current queue statistics.
func (q *OrderedQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.Pending = len(q.pending)
	stats.Queued = len(q.playQueue)
	stats.NextToPlay = q.nextToPlay
	return stats
}
