package services

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Scheduler source names.
const (
	// SourceVideoTimer fires every check interval: new files are discovered
	// and the time trigger is evaluated.
	SourceVideoTimer = "video-timer"

	// SourceImageCount fires when ingestion fills a window to its count threshold.
	SourceImageCount = "image-count"
)

// Ticker abstracts time.Ticker for tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// Scheduler is the daemon's cooperative loop. Handlers run one at a time on
// the calling goroutine.
type Scheduler struct {
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	counts    chan string

	mu    sync.Mutex
	fired map[string]int
}

// NewScheduler creates a Scheduler whose timer source fires every interval.
func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{
		interval:  interval,
		newTicker: func(d time.Duration) Ticker { return stdTicker{time.NewTicker(d)} },
		counts:    make(chan string, 1),
		fired:     make(map[string]int),
	}
}

// WithTicker replaces the timer source, for tests.
func (s *Scheduler) WithTicker(newTicker func(time.Duration) Ticker) *Scheduler {
	s.newTicker = newTicker
	return s
}

// NotifyCount signals the count source. It never blocks; signals that arrive
// while one is pending are coalesced.
func (s *Scheduler) NotifyCount() {
	select {
	case s.counts <- SourceImageCount:
	default:
	}
}

// Run calls handle for the timer source once immediately and then on every
// tick, and for the count source whenever it was notified. It returns when
// ctx is done (nil) or a handler fails.
func (s *Scheduler) Run(ctx context.Context, handle func(ctx context.Context, source string) error) error {
	ticker := s.newTicker(s.interval)
	defer ticker.Stop()

	if err := s.fire(ctx, SourceVideoTimer, handle); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := s.fire(ctx, SourceVideoTimer, handle); err != nil {
				return err
			}
		case source := <-s.counts:
			if err := s.fire(ctx, source, handle); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, source string, handle func(context.Context, string) error) error {
	if ctx.Err() != nil {
		return nil
	}
	s.mu.Lock()
	s.fired[source]++
	s.mu.Unlock()
	return handle(ctx, source)
}

// Fired returns how often each source fired.
func (s *Scheduler) Fired() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.fired)
}
