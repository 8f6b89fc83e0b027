package detloader_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vvka-141/detloader/pkg/detloader"
)

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, detloader.ExitSuccess},
		{"general error", errors.New("something went wrong"), detloader.ExitGeneralError},
		{"canceled", context.Canceled, detloader.ExitGeneralError},
		{"unknown flag", errors.New("unknown flag: --foo"), detloader.ExitUsageError},
		{"unknown command", errors.New(`unknown command "extra" for "detloader run"`), detloader.ExitUsageError},
		{"invalid argument", errors.New(`invalid argument "abc" for "--port"`), detloader.ExitUsageError},
		{"reset refused", fmt.Errorf("state has history: %w", detloader.ErrResetRefused), detloader.ExitUsageError},
		{"invalid config", fmt.Errorf("retry.max_attempts: %w", detloader.ErrInvalidConfig), detloader.ExitConfigError},
		{"unsupported auth", detloader.ErrUnsupportedAuthMethod, detloader.ExitConfigError},
		{"connection failed", detloader.ErrConnectionFailed, detloader.ExitSinkUnreachable},
		{"connection refused text", errors.New("dial tcp 127.0.0.1:5432: connection refused"), detloader.ExitSinkUnreachable},
		{
			"sink unreachable",
			&detloader.ConnectivityError{Op: "upsert batch", Err: fmt.Errorf("%w: timeout", detloader.ErrSinkUnreachable)},
			detloader.ExitSinkUnreachable,
		},
		{"sink rejected", fmt.Errorf("upsert batch: %w: relation missing", detloader.ErrSinkRejected), detloader.ExitSinkRejected},
		{"state corrupt", &detloader.StateCorruptionError{Path: "state.json", Err: errors.New("bad json")}, detloader.ExitStateCorrupt},
		{
			"state corrupt beats joined errors",
			errors.Join(context.Canceled, &detloader.StateCorruptionError{Path: "state.json", Err: errors.New("eof")}),
			detloader.ExitStateCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detloader.ExitCodeForError(tt.err); got != tt.want {
				t.Errorf("ExitCodeForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStateCorruptionError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("load: %w", &detloader.StateCorruptionError{Path: "s.json", Err: errors.New("eof")})
	if !errors.Is(err, detloader.ErrStateCorrupt) {
		t.Error("expected errors.Is(err, ErrStateCorrupt)")
	}
}

func TestIsFileLevel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"schema", &detloader.SchemaError{File: "a.csv", Missing: []string{"confidence"}}, true},
		{"file", fmt.Errorf("read: %w", &detloader.FileError{File: "a.csv", Err: errors.New("EOF")}), true},
		{"parse", &detloader.ParseError{File: "a.csv", Line: 3, Err: errors.New("bad quote")}, false},
		{"validation", &detloader.ValidationError{File: "a.csv", Line: 3, Field: "confidence", Reason: detloader.ReasonOutOfRange}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detloader.IsFileLevel(tt.err); got != tt.want {
				t.Errorf("IsFileLevel(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&detloader.ParseError{File: "a.csv", Line: 7, Err: errors.New("wrong number of fields")}, "a.csv:7: parse error: wrong number of fields"},
		{&detloader.SchemaError{File: "b.csv", Missing: []string{"class_name", "confidence"}}, "b.csv: header missing required columns: class_name, confidence"},
		{
			&detloader.ValidationError{File: "c.csv", Line: 2, Field: "confidence", Reason: detloader.ReasonOutOfRange, Detail: "1.7"},
			"c.csv:2: confidence: out-of-range (1.7)",
		},
		{&detloader.SinkRejectionError{Fingerprint: "ab12", Reason: "23514"}, "sink rejected row ab12: 23514"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
