package detloader

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink is the warehouse a batch is committed to.
//
// UpsertBatch must be keyed by fingerprint so that re-delivering a row that is
// already stored is a no-op. It returns one RowOutcome per input record, in order.
// A non-nil error means nothing was committed; transient errors are retried by
// the loader, anything else fails the batch.
type Sink interface {
	InitSchema(ctx context.Context) error
	UpsertBatch(ctx context.Context, records []DetectionRecord, batch BatchInfo) ([]RowOutcome, error)
}

// RetentionSink is a Sink that can drop stored detections by age.
// Cleanup deletes rows processed more than olderThan ago and returns how many
// were removed.
type RetentionSink interface {
	Sink
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// BatchInfo carries batch-level metadata a sink may persist alongside rows.
type BatchInfo struct {
	ID      string
	Trigger TriggerReason
}

// Connector establishes a connection pool to the warehouse.
// Different implementations handle standard credentials and cloud IAM tokens.
type Connector interface {
	// Connect establishes a connection pool to the database.
	// The returned pool should be closed by the caller when done.
	Connect(ctx context.Context) (*pgxpool.Pool, error)
}
