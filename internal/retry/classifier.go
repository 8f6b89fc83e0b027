package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// PostgreSQL error codes outside the blanket transient classes.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
	pgCodeLockNotAvailable     = "55P03"
	pgCodeQueryCanceled        = "57014"
)

// transientPgClasses are error classes retried wholesale:
// 08 connection exception, 53 insufficient resources, 57 operator intervention.
var transientPgClasses = []string{"08", "53", "57"}

// rowRejectionPgClasses are per-row problems: 22 data exception, 23 integrity violation.
var rowRejectionPgClasses = []string{"22", "23"}

// transientMessages match driver and dialer errors that carry no typed cause.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"connection failure",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"too many connections",
	"server closed the connection",
	"unexpected eof",
	"conn closed",
	"failed to connect",
}

// SinkErrorClassifier implements detloader.ErrorClassifier for warehouse errors.
type SinkErrorClassifier struct{}

// NewSinkErrorClassifier creates a new sink error classifier.
func NewSinkErrorClassifier() *SinkErrorClassifier {
	return &SinkErrorClassifier{}
}

// IsTransient determines if an error is temporary and retryable.
func (c *SinkErrorClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// The caller gave up; retrying would ignore that.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rejection *detloader.SinkRejectionError
	if errors.As(err, &rejection) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientPgCode(pgErr.Code)
	}

	var connErr *detloader.ConnectivityError
	if errors.As(err, &connErr) {
		return true
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	if isNetworkError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsRowRejection reports whether a PostgreSQL error describes a bad row rather
// than a bad connection or a bad table.
func IsRowRejection(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return hasClass(pgErr.Code, rowRejectionPgClasses)
}

func isTransientPgCode(code string) bool {
	if code == pgCodeQueryCanceled {
		// statement_timeout; the batch is too slow, not the server unavailable
		return false
	}
	if hasClass(code, transientPgClasses) {
		return true
	}
	switch code {
	case pgCodeSerializationFailure, pgCodeDeadlockDetected, pgCodeLockNotAvailable:
		return true
	}
	return false
}

func hasClass(code string, classes []string) bool {
	for _, class := range classes {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		for _, errno := range []syscall.Errno{
			syscall.ECONNREFUSED,
			syscall.ECONNRESET,
			syscall.ENETUNREACH,
			syscall.EHOSTUNREACH,
			syscall.EPIPE,
		} {
			if errors.Is(opErr.Err, errno) {
				return true
			}
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
