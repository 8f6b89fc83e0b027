package retry

import (
	"context"
	"time"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// Executor runs an operation, retrying transient failures with backoff.
//
// WithOnRetry and WithSleep return configured copies; the receiver is never modified.
type Executor struct {
	classifier detloader.ErrorClassifier
	strategy   detloader.BackoffStrategy
	onRetry    func(attempt int, err error, delay time.Duration)
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a new retry executor.
// Panics if classifier or strategy is nil.
func NewExecutor(classifier detloader.ErrorClassifier, strategy detloader.BackoffStrategy) *Executor {
	if classifier == nil {
		panic("classifier cannot be nil")
	}
	if strategy == nil {
		panic("strategy cannot be nil")
	}
	return &Executor{
		classifier: classifier,
		strategy:   strategy,
		sleep:      sleepContext,
	}
}

// WithOnRetry returns a copy that calls callback before each retry wait.
func (e *Executor) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Executor {
	clone := *e
	clone.onRetry = callback
	return &clone
}

// WithSleep returns a copy using sleep instead of a timer, for tests.
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	clone := *e
	clone.sleep = sleep
	return &clone
}

// Execute runs operation until it succeeds, fails fatally, or the retry budget
// is spent. It returns the number of calls made and the last error.
func (e *Executor) Execute(ctx context.Context, operation func(ctx context.Context) error) (int, error) {
	maxRetries := e.strategy.MaxAttempts()

	calls := 1
	lastErr := operation(ctx)
	if lastErr == nil || !e.classifier.IsTransient(lastErr) {
		return calls, lastErr
	}

	for attempt := 0; maxRetries < 0 || attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return calls, err
		}

		delay := e.strategy.NextDelay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt, lastErr, delay)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return calls, err
		}

		calls++
		lastErr = operation(ctx)
		if lastErr == nil || !e.classifier.IsTransient(lastErr) {
			return calls, lastErr
		}
	}

	return calls, &exhaustedError{attempts: calls, err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
