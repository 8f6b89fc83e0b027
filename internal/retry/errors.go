package retry

import (
	"errors"
	"fmt"
)

type exhaustedError struct {
	attempts int
	err      error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.attempts, e.err)
}

func (e *exhaustedError) Unwrap() error { return e.err }

// IsExhausted reports whether err came from an Executor that spent its whole
// retry budget on transient failures.
func IsExhausted(err error) bool {
	var ex *exhaustedError
	return errors.As(err, &ex)
}
