package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOperation tracks invocation count and simulates transient failures
type mockOperation struct {
	invocations  int
	failUntil    int // Fail for invocations < failUntil
	transientErr error
	fatalErr     error
}

func (m *mockOperation) execute(ctx context.Context) error {
	m.invocations++

	if m.invocations < m.failUntil {
		if m.transientErr != nil {
			return m.transientErr
		}
		return &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}

	if m.invocations == m.failUntil && m.fatalErr != nil {
		return m.fatalErr
	}

	return nil
}

// recordingSleep captures requested delays instead of waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestExecutor(maxRetries int) (*Executor, *recordingSleep) {
	rec := &recordingSleep{}
	strategy := NewExponentialBackoff(maxRetries, WithInitialDelay(10*time.Millisecond), WithJitter(0))
	return NewExecutor(NewSinkErrorClassifier(), strategy).WithSleep(rec.sleep), rec
}

func TestExecutor_Execute_SuccessOnFirstAttempt(t *testing.T) {
	executor, rec := newTestExecutor(3)
	op := &mockOperation{failUntil: 1}

	calls, err := executor.Execute(context.Background(), op.execute)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, op.invocations)
	assert.Empty(t, rec.delays)
}

func TestExecutor_Execute_SuccessAfterRetries(t *testing.T) {
	executor, rec := newTestExecutor(5)
	op := &mockOperation{failUntil: 4}

	calls, err := executor.Execute(context.Background(), op.execute)

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, rec.delays)
}

func TestExecutor_Execute_FatalErrorNoRetry(t *testing.T) {
	executor, _ := newTestExecutor(5)
	fatal := &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	op := &mockOperation{failUntil: 1, fatalErr: fatal}

	calls, err := executor.Execute(context.Background(), op.execute)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsExhausted(err))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
}

func TestExecutor_Execute_FatalAfterTransient(t *testing.T) {
	executor, _ := newTestExecutor(5)
	op := &mockOperation{failUntil: 3, fatalErr: errors.New("permission denied")}

	calls, err := executor.Execute(context.Background(), op.execute)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.False(t, IsExhausted(err))
}

func TestExecutor_Execute_Exhausted(t *testing.T) {
	executor, rec := newTestExecutor(2)
	op := &mockOperation{failUntil: 100}

	calls, err := executor.Execute(context.Background(), op.execute)

	require.Error(t, err)
	assert.Equal(t, 3, calls, "one call plus two retries")
	assert.Equal(t, 3, op.invocations)
	assert.Len(t, rec.delays, 2)
	assert.True(t, IsExhausted(err))

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr), "exhaustion keeps the last cause")
}

func TestExecutor_Execute_NoRetries(t *testing.T) {
	executor, _ := newTestExecutor(0)
	op := &mockOperation{failUntil: 100}

	calls, err := executor.Execute(context.Background(), op.execute)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsExhausted(err))
}

func TestExecutor_Execute_ContextCanceledDuringWait(t *testing.T) {
	strategy := NewExponentialBackoff(5, WithInitialDelay(time.Hour), WithJitter(0))
	executor := NewExecutor(NewSinkErrorClassifier(), strategy)

	ctx, cancel := context.WithCancel(context.Background())
	op := &mockOperation{failUntil: 100}

	executor = executor.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		cancel()
	})

	calls, err := executor.Execute(ctx, op.execute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecutor_WithOnRetry_DoesNotModifyReceiver(t *testing.T) {
	base, _ := newTestExecutor(2)
	var seen []int
	withCallback := base.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	})

	_, _ = base.Execute(context.Background(), (&mockOperation{failUntil: 100}).execute)
	assert.Empty(t, seen)

	_, _ = withCallback.Execute(context.Background(), (&mockOperation{failUntil: 100}).execute)
	assert.Equal(t, []int{0, 1}, seen)
}

func TestNewExecutor_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewExecutor(nil, NewExponentialBackoff(1)) })
	assert.Panics(t, func() { NewExecutor(NewSinkErrorClassifier(), nil) })
}
