package detloader

import "time"

// ErrorClassifier decides which sink and connection errors are worth another attempt.
type ErrorClassifier interface {
	// IsTransient reports whether err is temporary (network, server restart,
	// resource exhaustion) rather than a problem with the batch itself.
	IsTransient(err error) bool
}

// BackoffStrategy spaces out retries of a sink call.
type BackoffStrategy interface {
	// NextDelay returns the wait before retry number attempt (zero-based).
	NextDelay(attempt int) time.Duration

	// MaxAttempts is the number of retries after the first call; 0 disables
	// retries and a negative value retries until the context ends.
	MaxAttempts() int
}
