package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// ExponentialBackoff implements capped exponential backoff with symmetric jitter.
type ExponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64

	// maxAttempts counts retries after the first call (-1 = unlimited, 0 = no retries)
	maxAttempts int

	// jitter of 0.1 spreads each delay over +/- 10%
	jitter     float64
	jitterFunc func() float64
}

// BackoffOption is a functional option for configuring ExponentialBackoff.
type BackoffOption func(*ExponentialBackoff)

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.initialDelay = d }
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.maxDelay = d }
}

// WithMultiplier sets the growth factor between consecutive delays.
func WithMultiplier(m float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.multiplier = m }
}

// WithJitter sets the jitter factor, clamped to [0, 1].
func WithJitter(j float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.jitter = math.Min(math.Max(j, 0), 1) }
}

// WithJitterFunc replaces the random source used for jitter. f must return values in [0, 1).
func WithJitterFunc(f func() float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.jitterFunc = f }
}

// NewExponentialBackoff creates a backoff allowing maxRetries retries after the first call.
//
//	backoff := retry.NewExponentialBackoff(2,
//	    retry.WithInitialDelay(200*time.Millisecond),
//	    retry.WithMaxDelay(time.Minute),
//	)
func NewExponentialBackoff(maxRetries int, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: detloader.DefaultRetryInitialDelay,
		maxDelay:     detloader.DefaultRetryMaxDelay,
		multiplier:   2.0,
		maxAttempts:  maxRetries,
		jitter:       0.1,
		jitterFunc:   rand.Float64,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.multiplier < 1 {
		b.multiplier = 1
	}
	return b
}

// ForTotalAttempts builds a backoff from a total call budget, the way
// retry.max_attempts is configured. A budget below 1 is treated as 1.
func ForTotalAttempts(total int, opts ...BackoffOption) *ExponentialBackoff {
	return NewExponentialBackoff(max(total-1, 0), opts...)
}

// NextDelay returns the wait before retry number attempt (zero-based).
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt))
	if ceiling := float64(b.maxDelay); b.maxDelay > 0 && delay > ceiling {
		delay = ceiling
	}

	if b.jitter > 0 && b.jitterFunc != nil {
		offset := (b.jitterFunc() - 0.5) * 2.0 // [0,1) -> [-1,1)
		delay *= 1.0 + b.jitter*offset
	}

	return time.Duration(delay)
}

// MaxAttempts returns the number of retries allowed after the first call.
func (b *ExponentialBackoff) MaxAttempts() int { return b.maxAttempts }

// InitialDelay returns the configured initial delay.
func (b *ExponentialBackoff) InitialDelay() time.Duration { return b.initialDelay }

// MaxDelay returns the configured delay cap.
func (b *ExponentialBackoff) MaxDelay() time.Duration { return b.maxDelay }

// Multiplier returns the configured growth factor.
func (b *ExponentialBackoff) Multiplier() float64 { return b.multiplier }

// Jitter returns the configured jitter factor.
func (b *ExponentialBackoff) Jitter() float64 { return b.jitter }
