package engines

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/ttypes"
)

// FallbackEngine wraps a primary synthesizer and switches to a secondary one
// after the primary failed maxFailures times in a row.
type FallbackEngine struct {
	primary     ttypes.Synthesizer
	fallback    ttypes.Synthesizer
	maxFailures int
	logger      *log.Logger

	mu            sync.RWMutex
	failures      int
	usingFallback bool
}

// NewFallbackEngine creates a new engine with automatic fallback capability.
func NewFallbackEngine(primary, fallback ttypes.Synthesizer, maxFailures int) *FallbackEngine {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &FallbackEngine{
		primary:     primary,
		fallback:    fallback,
		maxFailures: maxFailures,
		logger:      log.Default().WithPrefix("fallback"),
	}
}

// Synthesize uses the active engine. The call that reaches maxFailures is
// retried on the fallback right away.
func (f *FallbackEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.RLock()
	usingFallback := f.usingFallback
	f.mu.RUnlock()

	if usingFallback {
		return f.fallback.Synthesize(ctx, text)
	}

	data, err := f.primary.Synthesize(ctx, text)
	if err == nil {
		f.mu.Lock()
		if f.failures > 0 {
			f.logger.Info("Primary engine recovered", "failures", f.failures)
			f.failures = 0
		}
		f.mu.Unlock()
		return data, nil
	}

	// A cancelled call says nothing about the engine
	if ctx.Err() != nil {
		return nil, err
	}

	f.mu.Lock()
	f.failures++
	failures := f.failures
	switched := !f.usingFallback && failures >= f.maxFailures
	if switched {
		f.usingFallback = true
	}
	f.mu.Unlock()

	f.logger.Warn("Primary engine failed", "attempt", failures, "max", f.maxFailures, "error", err)
	if !switched {
		return nil, err
	}

	f.logger.Warn("Switching to fallback engine", "engine", f.fallback.GetInfo().Name)
	data, fallbackErr := f.fallback.Synthesize(ctx, text)
	if fallbackErr != nil {
		return nil, fmt.Errorf("both engines failed: %w", errors.Join(err, fallbackErr))
	}
	return data, nil
}

// GetInfo returns the active engine's info.
func (f *FallbackEngine) GetInfo() ttypes.EngineInfo {
	if f.UsingFallback() {
		return f.fallback.GetInfo()
	}
	return f.primary.GetInfo()
}

// Validate succeeds when either engine is usable.
func (f *FallbackEngine) Validate() error {
	primaryErr := f.primary.Validate()
	if primaryErr == nil {
		return nil
	}
	if err := f.fallback.Validate(); err != nil {
		return fmt.Errorf("both engines invalid: %w", errors.Join(primaryErr, err))
	}

	f.mu.Lock()
	f.usingFallback = true
	f.mu.Unlock()
	f.logger.Warn("Primary engine not available, using fallback", "error", primaryErr)
	return nil
}

// UsingFallback reports whether the fallback engine is active.
func (f *FallbackEngine) UsingFallback() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.usingFallback
}

// Reset switches back to the primary engine.
func (f *FallbackEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
	f.usingFallback = false
}

// Status describes the active engine.
func (f *FallbackEngine) Status() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.usingFallback {
		return fmt.Sprintf("Using fallback engine (primary failed %d times)", f.failures)
	}
	return fmt.Sprintf("Using primary engine (failures: %d/%d)", f.failures, f.maxFailures)
}

// Close closes both engines.
func (f *FallbackEngine) Close() error {
	var errs []error
	if err := f.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close: %w", err))
	}
	if err := f.fallback.Close(); err != nil {
		errs = append(errs, fmt.Errorf("fallback close: %w", err))
	}
	return errors.Join(errs...)
}
