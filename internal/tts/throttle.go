package tts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Task produces raw audio bytes for one sentence.
type Task func(ctx context.Context) ([]byte, error)

// TaskResult is the settled value of a throttled task.
type TaskResult struct {
	Data []byte
	Err  error
}

// ThrottleConfig contains synthesis throttle configuration.
type ThrottleConfig struct {
	// MaxConcurrent is the number of tasks allowed to run at once (>= 1)
	MaxConcurrent int

	// Delay is how long a slot stays held after its task settles
	Delay time.Duration
}

// ThrottleStats tracks throttle metrics
type ThrottleStats struct {
	Enqueued    int64
	Started     int64
	Succeeded   int64
	Failed      int64
	Canceled    int64 // Settled without running because the context ended
	Rejected    int64 // Rejected by Close before starting
	Running     int
	Queued      int
	PeakRunning int
}

type throttleTask struct {
	ctx  context.Context
	fn   Task
	done chan TaskResult
}

// Throttle runs tasks strictly FIFO with bounded concurrency and a fixed
// pause after each task settles. A failing task never stops the queue.
type Throttle struct {
	config ThrottleConfig
	logger *log.Logger

	mu      sync.Mutex
	queue   []*throttleTask
	running int
	closed  bool
	stats   ThrottleStats

	closing   chan struct{}
	closeOnce sync.Once
}

// NewThrottle creates a throttle. Invalid values fall back to one slot and no delay.
func NewThrottle(config ThrottleConfig) *Throttle {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	return &Throttle{
		config:  config,
		logger:  log.Default().WithPrefix("throttle"),
		closing: make(chan struct{}),
	}
}

// Enqueue schedules fn. The returned channel receives exactly the value or
// error fn settled with.
func (t *Throttle) Enqueue(ctx context.Context, fn Task) <-chan TaskResult {
	task := &throttleTask{ctx: ctx, fn: fn, done: make(chan TaskResult, 1)}

	t.mu.Lock()
	if t.closed {
		t.stats.Rejected++
		t.mu.Unlock()
		task.done <- TaskResult{Err: ErrThrottleClosed}
		return task.done
	}
	t.queue = append(t.queue, task)
	t.stats.Enqueued++
	t.mu.Unlock()

	t.drain()
	return task.done
}

// Do enqueues fn and waits for it to settle or for ctx to end.
func (t *Throttle) Do(ctx context.Context, fn Task) ([]byte, error) {
	select {
	case res := <-t.Enqueue(ctx, fn):
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain starts queued tasks while slots are free.
func (t *Throttle) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.running < t.config.MaxConcurrent && len(t.queue) > 0 {
		task := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]

		if err := task.ctx.Err(); err != nil {
			t.stats.Canceled++
			task.done <- TaskResult{Err: err}
			continue
		}

		t.running++
		t.stats.Started++
		if t.running > t.stats.PeakRunning {
			t.stats.PeakRunning = t.running
		}
		go t.run(task)
	}
}

// run executes one task, holds its slot for the delay, then frees it.
func (t *Throttle) run(task *throttleTask) {
	data, err := t.call(task)
	task.done <- TaskResult{Data: data, Err: err}

	t.mu.Lock()
	if err != nil {
		t.stats.Failed++
	} else {
		t.stats.Succeeded++
	}
	t.mu.Unlock()

	if t.config.Delay > 0 {
		timer := time.NewTimer(t.config.Delay)
		select {
		case <-timer.C:
		case <-t.closing:
			timer.Stop()
		}
	}

	t.mu.Lock()
	t.running--
	t.mu.Unlock()

	t.drain()
}

// call runs the task, turning a panic into an error.
func (t *Throttle) call(task *throttleTask) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Synthesis task panicked", "panic", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.fn(task.ctx)
}

// Close rejects queued tasks that have not started with ErrThrottleClosed.
// Running tasks settle normally. Close is idempotent.
func (t *Throttle) Close() error {
	t.mu.Lock()
	t.closed = true
	rejected := t.queue
	t.queue = nil
	t.stats.Rejected += int64(len(rejected))
	t.mu.Unlock()

	t.closeOnce.Do(func() { close(t.closing) })

	for _, task := range rejected {
		task.done <- TaskResult{Err: ErrThrottleClosed}
	}
	return nil
}

// Stats returns current throttle statistics.
func (t *Throttle) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.Running = t.running
	stats.Queued = len(t.queue)
	return stats
}
