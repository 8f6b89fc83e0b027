package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vvka-141/detloader/internal/retry"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// RetryPolicy configures sink retries.
type RetryPolicy struct {
	// MaxAttempts counts every sink call, including the first.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the built-in retry settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  detloader.DefaultRetryMaxAttempts,
		InitialDelay: detloader.DefaultRetryInitialDelay,
		MaxDelay:     detloader.DefaultRetryMaxDelay,
		Multiplier:   2.0,
	}
}

// Executor builds a retry executor for p using the sink error classifier.
func (p RetryPolicy) Executor() *retry.Executor {
	return retry.NewExecutor(
		retry.NewSinkErrorClassifier(),
		retry.ForTotalAttempts(p.MaxAttempts,
			retry.WithInitialDelay(p.InitialDelay),
			retry.WithMaxDelay(p.MaxDelay),
			retry.WithMultiplier(p.Multiplier),
		),
	)
}

// Loader writes batches to a sink with retries.
type Loader struct {
	sink     detloader.Sink
	executor *retry.Executor
	logger   detloader.Logger
}

// New creates a Loader. A nil executor uses DefaultRetryPolicy.
// Panics if sink or logger is nil.
func New(sink detloader.Sink, executor *retry.Executor, logger detloader.Logger) *Loader {
	if sink == nil {
		panic("sink cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	if executor == nil {
		executor = DefaultRetryPolicy().Executor()
	}
	return &Loader{sink: sink, executor: executor, logger: logger}
}

// Init ensures the target schema exists. It is safe to call repeatedly.
func (l *Loader) Init(ctx context.Context) error {
	exec := l.executor.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		l.logger.Warn("Schema init attempt %d failed, retrying in %v: %v", attempt+1, delay, err)
	})
	_, err := exec.Execute(ctx, l.sink.InitSchema)
	if err != nil {
		return classify("init schema", err)
	}
	l.logger.Verbose("Warehouse schema ready")
	return nil
}

// Cleanup deletes warehouse rows processed more than olderThan ago, with the
// same retry and error classification as Load.
func (l *Loader) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	rs, ok := l.sink.(detloader.RetentionSink)
	if !ok {
		return 0, fmt.Errorf("sink %T does not support retention cleanup", l.sink)
	}
	exec := l.executor.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		l.logger.Warn("Cleanup attempt %d failed, retrying in %v: %v", attempt+1, delay, err)
	})
	var deleted int64
	_, err := exec.Execute(ctx, func(ctx context.Context) error {
		n, err := rs.Cleanup(ctx, olderThan)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, classify("cleanup", err)
	}
	return deleted, nil
}

// Load upserts b and reports the per-row outcome. A returned error means
// nothing was committed: a *detloader.ConnectivityError wrapping
// detloader.ErrSinkUnreachable when retries ran out, an error wrapping
// detloader.ErrSinkRejected when the sink refused the whole batch, or the
// context error when ctx ended first.
func (l *Loader) Load(ctx context.Context, b *detloader.Batch) (detloader.LoadResult, error) {
	res := detloader.LoadResult{BatchID: b.ID}
	if b.Len() == 0 {
		res.Committed = true
		return res, nil
	}

	info := detloader.BatchInfo{ID: b.ID.String(), Trigger: b.Trigger}
	exec := l.executor.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		l.logger.Warn("Batch %s (%s, %d rows): sink attempt %d failed, retrying in %v: %v",
			b.ID, b.SourceType, b.Len(), attempt+1, delay, err)
	})

	var outcomes []detloader.RowOutcome
	calls, err := exec.Execute(ctx, func(ctx context.Context) error {
		out, err := l.sink.UpsertBatch(ctx, b.Records, info)
		if err != nil {
			return err
		}
		outcomes = out
		return nil
	})
	res.Attempts = calls
	if err != nil {
		return res, classify(fmt.Sprintf("load batch %s", b.ID), err)
	}
	if len(outcomes) != len(b.Records) {
		return res, fmt.Errorf("%w: batch %s: sink returned %d outcomes for %d rows",
			detloader.ErrSinkRejected, b.ID, len(outcomes), len(b.Records))
	}

	for i, o := range outcomes {
		rec := b.Records[i]
		switch o.Status {
		case detloader.RowInserted:
			res.AcceptedCount++
		case detloader.RowAlreadyPresent:
			res.AcceptedCount++
			res.AlreadyPresent++
		case detloader.RowRejected:
			res.RejectedRows = append(res.RejectedRows, detloader.RejectedRow{
				Fingerprint: rec.Fingerprint,
				StagedFile:  rec.StagedFile,
				Line:        rec.Line,
				Reason:      o.Reason,
			})
		default:
			return res, fmt.Errorf("%w: batch %s: unknown row status %v", detloader.ErrSinkRejected, b.ID, o.Status)
		}
	}
	res.Committed = true

	l.logger.Verbose("Batch %s (%s, %s trigger): %d accepted, %d already present, %d rejected in %d attempt(s)",
		b.ID, b.SourceType, b.Trigger, res.AcceptedCount, res.AlreadyPresent, len(res.RejectedRows), res.Attempts)
	return res, nil
}

// classify maps an executor error onto the run-level sentinels.
func classify(op string, err error) error {
	switch {
	case retry.IsExhausted(err):
		return &detloader.ConnectivityError{Op: op, Err: fmt.Errorf("%w: %w", detloader.ErrSinkUnreachable, err)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, detloader.ErrSinkRejected, err)
	}
}
