package services

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// Report summarises one run or daemon session.
type Report struct {
	RunID      uuid.UUID
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time

	DiscoveredFiles int
	ParsedRows      int
	ParseErrors     int
	NormalizedRows  int
	RejectedRows    int
	DuplicateRows   int

	// LoadedRows counts rows the sink newly inserted; redelivered rows are
	// counted in AlreadyPresent only.
	LoadedRows       int
	AlreadyPresent   int
	SinkRejectedRows int

	Batches       int
	FailedBatches int
	BatchesByType map[detloader.SourceType]int

	// Triggers counts flushes by trigger reason.
	Triggers map[detloader.TriggerReason]int

	// DiscardedRows were pending at shutdown and left for the next start.
	DiscardedRows int

	ProcessedFiles   []string
	QuarantinedFiles map[string]string

	// Cumulative holds the persisted counters across all runs, as of the end
	// of this one.
	Cumulative state.Stats
}

func newReport(mode string, now time.Time) *Report {
	return &Report{
		RunID:            uuid.New(),
		Mode:             mode,
		StartedAt:        now,
		BatchesByType:    make(map[detloader.SourceType]int),
		Triggers:         make(map[detloader.TriggerReason]int),
		QuarantinedFiles: make(map[string]string),
	}
}

// QuarantinedNames returns the quarantined file names sorted.
func (r *Report) QuarantinedNames() []string {
	return slices.Sorted(maps.Keys(r.QuarantinedFiles))
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasWork reports whether the run touched anything.
func (r *Report) HasWork() bool {
	return r.DiscoveredFiles > 0 || r.Batches > 0 || r.FailedBatches > 0
}

func (r *Report) log(logger detloader.Logger) {
	if !r.HasWork() {
		logger.Info("No pending staged files")
		return
	}
	logger.Info("%s %s: %d files discovered, %d rows parsed, %d normalized, %d rejected, %d duplicates, %d loaded (%d already present), %d sink-rejected, %d batches (%d failed), %d files processed, %d quarantined in %v",
		r.Mode, r.RunID, r.DiscoveredFiles, r.ParsedRows, r.NormalizedRows, r.RejectedRows, r.DuplicateRows,
		r.LoadedRows, r.AlreadyPresent, r.SinkRejectedRows, r.Batches, r.FailedBatches,
		len(r.ProcessedFiles), len(r.QuarantinedFiles), r.Duration().Round(time.Millisecond))
	for _, name := range r.QuarantinedNames() {
		logger.Warn("Quarantined %s: %s", name, r.QuarantinedFiles[name])
	}
	if r.ParseErrors > 0 {
		logger.Warn("%d rows could not be parsed", r.ParseErrors)
	}
	logger.Verbose("Totals: %d runs, %d batches, %d rows loaded, %d files quarantined",
		r.Cumulative.Runs, r.Cumulative.TotalBatches, r.Cumulative.LoadedRows, r.Cumulative.QuarantinedFiles)
	if r.DiscardedRows > 0 {
		logger.Warn("%d pending rows discarded at shutdown; their files will be re-read on the next start", r.DiscardedRows)
	}
}
