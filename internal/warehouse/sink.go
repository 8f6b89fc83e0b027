package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/detloader/internal/logging"
	"github.com/vvka-141/detloader/internal/retry"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// Options names the warehouse tables.
type Options struct {
	Schema       string
	Table        string
	RejectsTable string
}

// DefaultOptions returns public.detections with public.detection_rejects.
func DefaultOptions() Options {
	return Options{
		Schema:       detloader.DefaultWarehouseSchema,
		Table:        detloader.DefaultWarehouseTable,
		RejectsTable: DefaultRejectsTable,
	}
}

// Sink writes detections to PostgreSQL. Safe for concurrent use; each call
// runs in its own transaction.
type Sink struct {
	pool   *pgxpool.Pool
	tables tables
	logger detloader.Logger
	now    func() time.Time
}

// New creates a Sink over pool. Empty option fields take their defaults.
func New(pool *pgxpool.Pool, opts Options, logger detloader.Logger) *Sink {
	def := DefaultOptions()
	if opts.Schema == "" {
		opts.Schema = def.Schema
	}
	if opts.Table == "" {
		opts.Table = def.Table
	}
	if opts.RejectsTable == "" {
		opts.RejectsTable = def.RejectsTable
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Sink{
		pool:   pool,
		tables: newTables(opts.Schema, opts.Table, opts.RejectsTable),
		logger: logger,
		now:    time.Now,
	}
}

var _ detloader.RetentionSink = (*Sink)(nil)

// InitSchema creates the detections and rejects tables and their indexes.
// It is idempotent.
func (s *Sink) InitSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range s.tables.ddl() {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	s.logger.Verbose("warehouse schema ready: %s", s.tables.detections)
	return nil
}

// UpsertBatch inserts records in one transaction. Rows whose fingerprint is
// already stored are reported RowAlreadyPresent. Rows the server refuses with
// a data or integrity error are rolled back to their savepoint, written to
// the rejects table and reported RowRejected. Any other error aborts the
// transaction and is returned unchanged for classification.
func (s *Sink) UpsertBatch(ctx context.Context, records []detloader.DetectionRecord, batch detloader.BatchInfo) ([]detloader.RowOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now().UTC()
	insert := s.tables.insertDetection()
	outcomes := make([]detloader.RowOutcome, len(records))
	var rejected []rejection

	for i, rec := range records {
		outcomes[i].Fingerprint = rec.Fingerprint

		status, rowErr, err := s.insertRow(ctx, tx, insert, rec, batch, now)
		if err != nil {
			return nil, err
		}
		outcomes[i].Status = status
		if rowErr != nil {
			outcomes[i].Reason = rejectReason(rowErr)
			rejected = append(rejected, rejection{rec: rec, reason: outcomes[i].Reason, detail: rowErr.Error()})
		}
	}

	for _, r := range rejected {
		if _, err := tx.Exec(ctx, s.tables.insertReject(),
			r.rec.Fingerprint, r.rec.StagedFile, r.reason, r.detail, batch.ID, now); err != nil {
			return nil, fmt.Errorf("record rejected row %s: %w", r.rec.Fingerprint, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if len(rejected) > 0 {
		s.logger.Warn("batch %s: warehouse rejected %d of %d rows", batch.ID, len(rejected), len(records))
	}
	return outcomes, nil
}

type rejection struct {
	rec    detloader.DetectionRecord
	reason string
	detail string
}

// insertRow runs one INSERT under a savepoint. A row-level rejection is
// returned as rowErr with a nil err; err is fatal for the batch.
func (s *Sink) insertRow(ctx context.Context, tx pgx.Tx, insert string, rec detloader.DetectionRecord, batch detloader.BatchInfo, now time.Time) (status detloader.RowStatus, rowErr, err error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}

	var fp string
	qerr := sp.QueryRow(ctx, insert, rowArgs(rec, batch, now)...).Scan(&fp)
	switch {
	case qerr == nil:
		status = detloader.RowInserted
	case errors.Is(qerr, pgx.ErrNoRows):
		status = detloader.RowAlreadyPresent
	case retry.IsRowRejection(qerr):
		if err := sp.Rollback(ctx); err != nil {
			return 0, nil, err
		}
		return detloader.RowRejected, qerr, nil
	default:
		return 0, nil, qerr
	}

	if err := sp.Commit(ctx); err != nil {
		return 0, nil, err
	}
	return status, nil, nil
}

func rowArgs(rec detloader.DetectionRecord, batch detloader.BatchInfo, now time.Time) []any {
	var frameIndex, frameTimestamp, imageWidth, imageHeight any
	if rec.FrameIndex >= 0 {
		frameIndex = rec.FrameIndex
	}
	if rec.SourceType == detloader.SourceVideo {
		frameTimestamp = rec.FrameTimestamp
	}
	if rec.ImageWidth > 0 {
		imageWidth = rec.ImageWidth
	}
	if rec.ImageHeight > 0 {
		imageHeight = rec.ImageHeight
	}
	cx, cy := rec.BBox.Center()

	return []any{
		rec.Fingerprint,
		rec.SourceFile,
		string(rec.SourceType),
		frameIndex,
		frameTimestamp,
		rec.ObjectClass,
		rec.Confidence,
		rec.BBox.X1, rec.BBox.Y1, rec.BBox.X2, rec.BBox.Y2,
		rec.BBox.Width(), rec.BBox.Height(), rec.BBox.Area(),
		cx, cy,
		imageWidth, imageHeight,
		rec.StagedFile,
		batch.ID,
		string(batch.Trigger),
		now,
		now,
	}
}

// rejectReason turns a server error into a short reason code such as
// "sink:23514:check_violation".
func rejectReason(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.ConstraintName != "" {
			return fmt.Sprintf("sink:%s:%s", pgErr.Code, pgErr.ConstraintName)
		}
		return "sink:" + pgErr.Code
	}
	return "sink"
}
