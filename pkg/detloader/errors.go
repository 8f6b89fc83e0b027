package detloader

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
// These enable callers to distinguish error types using errors.Is().
//
// Example usage:
//
//	err := pipeline.RunOnce(ctx, opts)
//	if errors.Is(err, detloader.ErrStateCorrupt) {
//	    // Operator must run `detloader reset-state`
//	}
var (
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStateCorrupt indicates the persisted run state could not be decoded.
	ErrStateCorrupt = errors.New("run state corrupt")

	// ErrSinkUnreachable indicates the sink stayed unreachable after all retries.
	ErrSinkUnreachable = errors.New("sink unreachable")

	// ErrSinkRejected indicates the sink refused a whole batch with a non-transient error.
	ErrSinkRejected = errors.New("sink rejected batch")

	// ErrConnectionFailed indicates the warehouse connection could not be established.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrUnsupportedAuthMethod indicates the requested authentication method is not supported.
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")

	// ErrResetRefused indicates a state reset was requested without --force on a healthy state.
	ErrResetRefused = errors.New("reset refused")
)

// Rejection reason codes attached to ValidationError and RejectedRow.
const (
	ReasonMissingField       = "missing-field"
	ReasonBadType            = "bad-type"
	ReasonOutOfRange         = "out-of-range"
	ReasonBelowMinConfidence = "below-min-confidence"
	ReasonParse              = "parse-error"
	ReasonSinkUnavailable    = "sink-unavailable"
	ReasonSinkRejectedBatch  = "sink-rejected-batch"
)

// ParseError is a row-level failure to decode a CSV record.
// The surrounding file keeps parsing.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: parse error: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FileError is a file-level failure: the file could not be opened or read.
// The file is quarantined and not marked processed.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// SchemaError is a file-level failure: the header does not carry the required columns.
type SchemaError struct {
	File    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: header missing required columns: %s", e.File, strings.Join(e.Missing, ", "))
}

// ValidationError is a row-level rejection with a reason code.
type ValidationError struct {
	File   string
	Line   int
	Field  string
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Field, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// ConnectivityError marks a transient sink failure. Loaders retry it with backoff.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SinkRejectionError is a row the sink refused (schema mismatch, malformed value).
// The row is quarantined; the rest of the batch still commits.
type SinkRejectionError struct {
	Fingerprint string
	Reason      string
}

func (e *SinkRejectionError) Error() string {
	return fmt.Sprintf("sink rejected row %s: %s", e.Fingerprint, e.Reason)
}

// StateCorruptionError is fatal: the persisted state must be reset explicitly.
type StateCorruptionError struct {
	Path string
	Err  error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v (run `detloader reset-state` to start over)", e.Path, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStateCorrupt) match any StateCorruptionError.
func (e *StateCorruptionError) Is(target error) bool {
	return target == ErrStateCorrupt
}

// IsFileLevel reports whether err should quarantine the whole staged file.
func IsFileLevel(err error) bool {
	var schemaErr *SchemaError
	var fileErr *FileError
	return errors.As(err, &schemaErr) || errors.As(err, &fileErr)
}

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, semantic codes for known errors,
// and ExitGeneralError (1) for unclassified errors.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var corrupt *StateCorruptionError
	switch {
	case errors.As(err, &corrupt), errors.Is(err, ErrStateCorrupt):
		return ExitStateCorrupt
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnsupportedAuthMethod):
		return ExitConfigError
	case errors.Is(err, ErrSinkUnreachable), errors.Is(err, ErrConnectionFailed):
		return ExitSinkUnreachable
	case errors.Is(err, ErrSinkRejected):
		return ExitSinkRejected
	case errors.Is(err, ErrResetRefused):
		return ExitUsageError
	}

	// Cobra usage errors carry no type; match on their wording
	errStr := err.Error()
	if strings.Contains(errStr, "unknown flag") ||
		strings.Contains(errStr, "unknown command") ||
		strings.Contains(errStr, "accepts ") ||
		strings.Contains(errStr, "invalid argument") {
		return ExitUsageError
	}

	if strings.Contains(errStr, "failed to connect") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") {
		return ExitSinkUnreachable
	}

	return ExitGeneralError
}
