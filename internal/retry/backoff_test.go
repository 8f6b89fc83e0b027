package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_NextDelay_NoJitter(t *testing.T) {
	b := NewExponentialBackoff(5,
		WithInitialDelay(100*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0),
	)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
		{-1, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoff_NextDelay_JitterBounds(t *testing.T) {
	tests := []struct {
		name   string
		random float64
		want   time.Duration
	}{
		{"lowest", 0.0, 80 * time.Millisecond},
		{"middle", 0.5, 100 * time.Millisecond},
		{"near highest", 0.75, 110 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewExponentialBackoff(1,
				WithInitialDelay(100*time.Millisecond),
				WithJitter(0.2),
				WithJitterFunc(func() float64 { return tt.random }),
			)
			assert.InDelta(t, float64(tt.want), float64(b.NextDelay(0)), float64(time.Microsecond))
		})
	}
}

func TestExponentialBackoff_Options(t *testing.T) {
	b := NewExponentialBackoff(4,
		WithInitialDelay(time.Second),
		WithMaxDelay(time.Minute),
		WithMultiplier(3),
		WithJitter(5),
	)

	assert.Equal(t, 4, b.MaxAttempts())
	assert.Equal(t, time.Second, b.InitialDelay())
	assert.Equal(t, time.Minute, b.MaxDelay())
	assert.Equal(t, 3.0, b.Multiplier())
	assert.Equal(t, 1.0, b.Jitter(), "jitter is clamped to 1")
}

func TestExponentialBackoff_MultiplierBelowOne(t *testing.T) {
	b := NewExponentialBackoff(3, WithMultiplier(0.5), WithJitter(0), WithInitialDelay(time.Second))

	assert.Equal(t, time.Second, b.NextDelay(3), "delays must never shrink")
}

func TestForTotalAttempts(t *testing.T) {
	assert.Equal(t, 2, ForTotalAttempts(3).MaxAttempts())
	assert.Equal(t, 0, ForTotalAttempts(1).MaxAttempts())
	assert.Equal(t, 0, ForTotalAttempts(0).MaxAttempts())
}
