package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/vvka-141/detloader/pkg/detloader"
)

func TestSinkErrorClassifier_IsTransient(t *testing.T) {
	classifier := NewSinkErrorClassifier()

	tests := []struct {
		name        string
		err         error
		isTransient bool
	}{
		{"nil", nil, false},
		{"connection_exception (08000)", &pgconn.PgError{Code: "08000"}, true},
		{"connection_failure (08006)", &pgconn.PgError{Code: "08006"}, true},
		{"too_many_connections (53300)", &pgconn.PgError{Code: "53300"}, true},
		{"disk_full (53100)", &pgconn.PgError{Code: "53100"}, true},
		{"admin_shutdown (57P01)", &pgconn.PgError{Code: "57P01"}, true},
		{"cannot_connect_now (57P03)", &pgconn.PgError{Code: "57P03"}, true},
		{"serialization_failure (40001)", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock_detected (40P01)", &pgconn.PgError{Code: "40P01"}, true},
		{"lock_not_available (55P03)", &pgconn.PgError{Code: "55P03"}, true},
		{"query_canceled (57014)", &pgconn.PgError{Code: "57014"}, false},
		{"undefined_table (42P01)", &pgconn.PgError{Code: "42P01"}, false},
		{"unique_violation (23505)", &pgconn.PgError{Code: "23505"}, false},
		{"numeric_value_out_of_range (22003)", &pgconn.PgError{Code: "22003"}, false},
		{"wrapped pg error", fmt.Errorf("upsert: %w", &pgconn.PgError{Code: "08006"}), true},
		{"connectivity error", &detloader.ConnectivityError{Op: "upsert", Err: errors.New("boom")}, true},
		{"row rejection", &detloader.SinkRejectionError{Fingerprint: "fp", Reason: "bad"}, false},
		{"context canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("upsert: %w", context.Canceled), false},
		{
			"connection refused op error",
			&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			true,
		},
		{
			"connection reset op error",
			&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET},
			true,
		},
		{"temporary dns", &net.DNSError{Err: "timeout", Name: "db", IsTemporary: true}, true},
		{"permanent dns", &net.DNSError{Err: "no such host", Name: "db", IsNotFound: true}, false},
		{"message pattern", errors.New("server closed the connection unexpectedly"), true},
		{"unknown", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isTransient, classifier.IsTransient(tt.err))
		})
	}
}

func TestIsRowRejection(t *testing.T) {
	assert.True(t, IsRowRejection(&pgconn.PgError{Code: "22003"}))
	assert.True(t, IsRowRejection(fmt.Errorf("row: %w", &pgconn.PgError{Code: "23502"})))
	assert.False(t, IsRowRejection(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, IsRowRejection(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsRowRejection(errors.New("plain")))
}
