package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// Phase is a track's position in its flush cycle.
type Phase int

const (
	Collecting Phase = iota
	ReadyToFlush
	Flushing
	Idle
)

// String returns a human-readable representation of the Phase.
func (p Phase) String() string {
	switch p {
	case Collecting:
		return "collecting"
	case ReadyToFlush:
		return "ready-to-flush"
	case Flushing:
		return "flushing"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// TrackConfig sets a track's triggers. Zero disables a trigger.
type TrackConfig struct {
	CountThreshold int
	Interval       time.Duration
}

// DefaultTrackConfigs returns the built-in triggers: images flush by count,
// videos by time.
func DefaultTrackConfigs() map[detloader.SourceType]TrackConfig {
	return map[detloader.SourceType]TrackConfig{
		detloader.SourceImage: {CountThreshold: detloader.DefaultImageBatchSize},
		detloader.SourceVideo: {Interval: detloader.DefaultVideoWindow},
	}
}

// Track is the batching state of one source type. It is not synchronised;
// the Manager guards it.
type Track struct {
	Type detloader.SourceType
	cfg  TrackConfig

	pending     []detloader.DetectionRecord
	openedAt    time.Time
	lastFlushAt time.Time

	queue    []*detloader.Batch
	inFlight *detloader.Batch
}

// NewTrack creates a track. lastFlushAt is the persisted time of the last
// successful flush, zero if the track never flushed.
func NewTrack(t detloader.SourceType, cfg TrackConfig, lastFlushAt time.Time) *Track {
	return &Track{Type: t, cfg: cfg, lastFlushAt: lastFlushAt}
}

// Phase reports the track's current phase.
func (t *Track) Phase() Phase {
	switch {
	case t.inFlight != nil:
		return Flushing
	case len(t.queue) > 0:
		return ReadyToFlush
	case len(t.pending) > 0:
		return Collecting
	default:
		return Idle
	}
}

// Pending returns the number of records in the open window.
func (t *Track) Pending() int { return len(t.pending) }

// Queued returns the number of frozen batches waiting for a flush.
func (t *Track) Queued() int { return len(t.queue) }

// LastFlushAt returns when the last flush finished.
func (t *Track) LastFlushAt() time.Time { return t.lastFlushAt }

// add appends rec to the open window.
func (t *Track) add(rec detloader.DetectionRecord, now time.Time) {
	if len(t.pending) == 0 {
		t.openedAt = now
	}
	t.pending = append(t.pending, rec)
}

// Due reports whether a trigger fires for the open window at now.
// The count trigger takes precedence when both fire.
func (t *Track) Due(now time.Time) (detloader.TriggerReason, bool) {
	if len(t.pending) == 0 {
		return "", false
	}
	if t.cfg.CountThreshold > 0 && len(t.pending) >= t.cfg.CountThreshold {
		return detloader.TriggerCount, true
	}
	if t.cfg.Interval > 0 && (t.lastFlushAt.IsZero() || now.Sub(t.lastFlushAt) >= t.cfg.Interval) {
		return detloader.TriggerTime, true
	}
	return "", false
}

// freeze turns the open window into a queued batch and opens a new window.
func (t *Track) freeze(trigger detloader.TriggerReason, now time.Time) *detloader.Batch {
	if len(t.pending) == 0 {
		return nil
	}
	b := &detloader.Batch{
		ID:         uuid.New(),
		SourceType: t.Type,
		Records:    t.pending,
		Trigger:    trigger,
		OpenedAt:   t.openedAt,
		FrozenAt:   now,
	}
	t.pending = nil
	t.openedAt = time.Time{}
	t.queue = append(t.queue, b)
	return b
}

// begin hands out the oldest queued batch unless one is already in flight.
func (t *Track) begin() (*detloader.Batch, bool) {
	if t.inFlight != nil || len(t.queue) == 0 {
		return nil, false
	}
	b := t.queue[0]
	t.queue = t.queue[1:]
	t.inFlight = b
	return b, true
}

// finish clears the in-flight batch. Only a committed batch restarts the
// interval; after a failure the window stays due.
func (t *Track) finish(b *detloader.Batch, now time.Time, committed bool) bool {
	if t.inFlight == nil || t.inFlight.ID != b.ID {
		return false
	}
	t.inFlight = nil
	if committed {
		t.lastFlushAt = now
	}
	return true
}

// discard drops the open window and queued batches; the in-flight batch is kept.
func (t *Track) discard() []detloader.DetectionRecord {
	dropped := t.pending
	for _, b := range t.queue {
		dropped = append(dropped, b.Records...)
	}
	t.pending = nil
	t.queue = nil
	return dropped
}
