package warehouse

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// MemorySink is an in-memory detloader.Sink keyed by fingerprint.
// It is used by tests to script sink failures and inspect what was stored.
type MemorySink struct {
	mu       sync.Mutex
	rows     map[string]detloader.DetectionRecord
	loadedAt map[string]time.Time
	batches  map[string]int
	calls    int
	failures []error

	// Reject, when set, is consulted per row; a non-empty reason rejects the row.
	Reject func(rec detloader.DetectionRecord) string

	// AfterUpsert, when set, runs after a successful upsert with the lock released.
	AfterUpsert func(batch detloader.BatchInfo)

	// Now stamps stored rows; nil means time.Now.
	Now func() time.Time
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		rows:     make(map[string]detloader.DetectionRecord),
		loadedAt: make(map[string]time.Time),
		batches:  make(map[string]int),
	}
}

// FailNext makes the next len(errs) upserts fail with errs in order,
// without storing anything.
func (s *MemorySink) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// InitSchema implements detloader.Sink.
func (s *MemorySink) InitSchema(ctx context.Context) error {
	return ctx.Err()
}

// UpsertBatch implements detloader.Sink.
func (s *MemorySink) UpsertBatch(ctx context.Context, records []detloader.DetectionRecord, batch detloader.BatchInfo) ([]detloader.RowOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return nil, err
	}

	outcomes := make([]detloader.RowOutcome, len(records))
	for i, rec := range records {
		outcomes[i].Fingerprint = rec.Fingerprint
		if s.Reject != nil {
			if reason := s.Reject(rec); reason != "" {
				outcomes[i].Status = detloader.RowRejected
				outcomes[i].Reason = reason
				continue
			}
		}
		if _, ok := s.rows[rec.Fingerprint]; ok {
			outcomes[i].Status = detloader.RowAlreadyPresent
			continue
		}
		s.rows[rec.Fingerprint] = rec
		s.loadedAt[rec.Fingerprint] = s.now()
		outcomes[i].Status = detloader.RowInserted
	}
	s.batches[batch.ID]++
	after := s.AfterUpsert
	s.mu.Unlock()

	if after != nil {
		after(batch)
	}
	return outcomes, nil
}

var _ detloader.RetentionSink = (*MemorySink)(nil)

func (s *MemorySink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Cleanup implements detloader.RetentionSink over the rows' store time.
func (s *MemorySink) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %v", olderThan)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var n int64
	for fp, at := range s.loadedAt {
		if at.Before(cutoff) {
			delete(s.rows, fp)
			delete(s.loadedAt, fp)
			n++
		}
	}
	return n, nil
}

// Rows returns a copy of the stored rows keyed by fingerprint.
func (s *MemorySink) Rows() map[string]detloader.DetectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.rows)
}

// Len returns the number of stored rows.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Calls returns the number of UpsertBatch calls, failed ones included.
func (s *MemorySink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Batches returns how many batches were stored successfully.
func (s *MemorySink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}
