package loader_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/detloader/internal/loader"
	"github.com/vvka-141/detloader/internal/logging"
	"github.com/vvka-141/detloader/internal/retry"
	"github.com/vvka-141/detloader/internal/warehouse"
	"github.com/vvka-141/detloader/pkg/detloader"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newLoader(sink detloader.Sink, attempts int) (*loader.Loader, *logging.CaptureLogger) {
	policy := loader.DefaultRetryPolicy()
	policy.MaxAttempts = attempts
	logger := logging.NewCaptureLogger()
	return loader.New(sink, policy.Executor().WithSleep(noSleep), logger), logger
}

func newBatch(fps ...string) *detloader.Batch {
	b := &detloader.Batch{ID: uuid.New(), SourceType: detloader.SourceVideo, Trigger: detloader.TriggerManual}
	for i, fp := range fps {
		b.Records = append(b.Records, detloader.DetectionRecord{
			StagedFile:  "video_a.csv",
			Line:        i + 2,
			SourceType:  detloader.SourceVideo,
			Fingerprint: fp,
		})
	}
	return b
}

var transient = &pgconn.PgError{Code: "08006", Message: "connection failure"}

func TestLoader_Load_Commits(t *testing.T) {
	sink := warehouse.NewMemorySink()
	l, _ := newLoader(sink, 3)

	res, err := l.Load(context.Background(), newBatch("a", "b"))
	require.NoError(t, err)

	assert.True(t, res.Committed)
	assert.Equal(t, 2, res.AcceptedCount)
	assert.Equal(t, 0, res.AlreadyPresent)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.RejectedRows)
}

func TestLoader_Load_RedeliveryCountsAsAccepted(t *testing.T) {
	sink := warehouse.NewMemorySink()
	l, _ := newLoader(sink, 3)

	_, err := l.Load(context.Background(), newBatch("a", "b"))
	require.NoError(t, err)
	res, err := l.Load(context.Background(), newBatch("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, 3, res.AcceptedCount)
	assert.Equal(t, 2, res.AlreadyPresent)
	assert.Equal(t, 3, sink.Len())
}

func TestLoader_Load_RetriesTransientFailures(t *testing.T) {
	sink := warehouse.NewMemorySink()
	sink.FailNext(transient, transient)
	l, logger := newLoader(sink, 3)

	res, err := l.Load(context.Background(), newBatch("a"))
	require.NoError(t, err)

	assert.True(t, res.Committed)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, logger.Contains("warn", "retrying"))
}

func TestLoader_Load_ExhaustionIsSinkUnreachable(t *testing.T) {
	sink := warehouse.NewMemorySink()
	sink.FailNext(transient, transient, transient)
	l, _ := newLoader(sink, 3)

	res, err := l.Load(context.Background(), newBatch("a"))
	require.Error(t, err)

	var connErr *detloader.ConnectivityError
	assert.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, detloader.ErrSinkUnreachable)
	assert.False(t, res.Committed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, sink.Calls())
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, detloader.ExitSinkUnreachable, detloader.ExitCodeForError(err))
}

func TestLoader_Load_SingleAttemptPolicy(t *testing.T) {
	sink := warehouse.NewMemorySink()
	sink.FailNext(transient)
	l, _ := newLoader(sink, 1)

	res, err := l.Load(context.Background(), newBatch("a"))
	assert.ErrorIs(t, err, detloader.ErrSinkUnreachable)
	assert.Equal(t, 1, res.Attempts)
}

func TestLoader_Load_FatalErrorIsNotRetried(t *testing.T) {
	sink := warehouse.NewMemorySink()
	sink.FailNext(&pgconn.PgError{Code: "42P01", Message: `relation "detections" does not exist`})
	l, _ := newLoader(sink, 3)

	res, err := l.Load(context.Background(), newBatch("a"))
	require.Error(t, err)

	assert.ErrorIs(t, err, detloader.ErrSinkRejected)
	assert.NotErrorIs(t, err, detloader.ErrSinkUnreachable)
	assert.False(t, res.Committed)
	assert.Equal(t, 1, sink.Calls())
	assert.Equal(t, detloader.ExitSinkRejected, detloader.ExitCodeForError(err))
}

func TestLoader_Load_RejectedRowsCarryOrigin(t *testing.T) {
	sink := warehouse.NewMemorySink()
	sink.Reject = func(rec detloader.DetectionRecord) string {
		if rec.Fingerprint == "bad" {
			return "sink:22003"
		}
		return ""
	}
	l, _ := newLoader(sink, 3)

	res, err := l.Load(context.Background(), newBatch("a", "bad", "c"))
	require.NoError(t, err)

	assert.True(t, res.Committed)
	assert.Equal(t, 2, res.AcceptedCount)
	require.Len(t, res.RejectedRows, 1)
	assert.Equal(t, detloader.RejectedRow{
		Fingerprint: "bad",
		StagedFile:  "video_a.csv",
		Line:        3,
		Reason:      "sink:22003",
	}, res.RejectedRows[0])
}

func TestLoader_Load_EmptyBatch(t *testing.T) {
	sink := warehouse.NewMemorySink()
	l, _ := newLoader(sink, 3)

	res, err := l.Load(context.Background(), newBatch())
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, 0, sink.Calls())
}

func TestLoader_Load_CanceledContext(t *testing.T) {
	sink := warehouse.NewMemorySink()
	l, _ := newLoader(sink, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := l.Load(ctx, newBatch("a"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Committed)
	assert.Equal(t, 0, sink.Len())
}

type shortSink struct{ warehouse.MemorySink }

func (s *shortSink) UpsertBatch(context.Context, []detloader.DetectionRecord, detloader.BatchInfo) ([]detloader.RowOutcome, error) {
	return nil, nil
}

func TestLoader_Load_OutcomeCountMismatch(t *testing.T) {
	l, _ := newLoader(&shortSink{}, 3)

	_, err := l.Load(context.Background(), newBatch("a"))
	assert.ErrorIs(t, err, detloader.ErrSinkRejected)
}

func TestLoader_Init(t *testing.T) {
	sink := warehouse.NewMemorySink()
	l, logger := newLoader(sink, 3)

	require.NoError(t, l.Init(context.Background()))
	assert.False(t, logger.Contains("warn", ""))
}

type flakyInitSink struct {
	warehouse.MemorySink
	failures int
	calls    int
}

func (s *flakyInitSink) InitSchema(context.Context) error {
	s.calls++
	if s.calls <= s.failures {
		return &detloader.ConnectivityError{Op: "dial", Err: errors.New("connection refused")}
	}
	return nil
}

func TestLoader_Init_Retries(t *testing.T) {
	sink := &flakyInitSink{failures: 2}
	l, _ := newLoader(sink, 3)

	require.NoError(t, l.Init(context.Background()))
	assert.Equal(t, 3, sink.calls)
}

func TestLoader_Init_Exhausted(t *testing.T) {
	sink := &flakyInitSink{failures: 5}
	l, _ := newLoader(sink, 2)

	err := l.Init(context.Background())
	assert.ErrorIs(t, err, detloader.ErrSinkUnreachable)
	assert.Equal(t, 2, sink.calls)
}

func TestNew_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() { loader.New(nil, nil, logging.NewNullLogger()) })
	assert.Panics(t, func() { loader.New(warehouse.NewMemorySink(), nil, nil) })
}

func TestRetryPolicy_Executor(t *testing.T) {
	exec := loader.DefaultRetryPolicy().Executor()
	require.NotNil(t, exec)

	calls, err := exec.WithSleep(noSleep).Execute(context.Background(), func(context.Context) error { return transient })
	assert.True(t, retry.IsExhausted(err))
	assert.Equal(t, detloader.DefaultRetryMaxAttempts, calls)
}

func TestLoader_Cleanup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := warehouse.NewMemorySink()
	sink.Now = func() time.Time { return now }
	l, _ := newLoader(sink, 3)
	ctx := context.Background()

	_, err := l.Load(ctx, newBatch("old"))
	require.NoError(t, err)
	now = now.Add(40 * 24 * time.Hour)
	_, err = l.Load(ctx, newBatch("new"))
	require.NoError(t, err)

	n, err := l.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, sink.Rows(), "new")
	assert.NotContains(t, sink.Rows(), "old")
}

func TestLoader_Cleanup_UnsupportedSink(t *testing.T) {
	l, _ := newLoader(struct{ detloader.Sink }{warehouse.NewMemorySink()}, 1)

	_, err := l.Cleanup(context.Background(), time.Hour)
	assert.ErrorContains(t, err, "does not support retention")
}
