package state

import (
	"maps"
	"slices"
	"time"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// CurrentVersion is the state document format written by this build.
const CurrentVersion = 1

// RunState is an immutable snapshot of the persisted state. Callers must not
// mutate the maps or slices it holds; Store.Commit produces the next snapshot.
type RunState struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	ProcessedFiles   map[string]ProcessedFile            `json:"processed_files"`
	Tracks           map[detloader.SourceType]TrackState `json:"tracks"`
	Ledger           Ledger                              `json:"ledger"`
	QuarantinedFiles map[string]QuarantinedFile          `json:"quarantined_files"`
	QuarantinedRows  []QuarantinedRow                    `json:"quarantined_rows"`
	Stats            Stats                               `json:"stats"`
}

// ProcessedFile records when a staged file was fully committed.
type ProcessedFile struct {
	ProcessedAt time.Time `json:"processed_at"`
	Records     int       `json:"records"`
}

// TrackState is the per-source-type batch bookkeeping.
type TrackState struct {
	LastFlushAt  time.Time `json:"last_flush_at,omitzero"`
	PendingCount int       `json:"pending_count"`
}

// QuarantinedFile is a staged file that could not be loaded.
// It is retried on the next discovery and cleared once it commits.
type QuarantinedFile struct {
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts"`
}

// QuarantinedRow is a row that was rejected by the sink or left uncommitted
// by a failed batch.
type QuarantinedRow struct {
	detloader.RejectedRow
	At time.Time `json:"at"`
}

// Stats are cumulative counters across every run.
type Stats struct {
	Runs             int64                          `json:"runs"`
	LastRunAt        time.Time                      `json:"last_run_at,omitzero"`
	DiscoveredFiles  int64                          `json:"discovered_files"`
	ParsedRows       int64                          `json:"parsed_rows"`
	NormalizedRows   int64                          `json:"normalized_rows"`
	RejectedRows     int64                          `json:"rejected_rows"`
	DuplicateRows    int64                          `json:"duplicate_rows"`
	LoadedRows       int64                          `json:"loaded_rows"`
	AlreadyPresent   int64                          `json:"already_present_rows"`
	SinkRejectedRows int64                          `json:"sink_rejected_rows"`
	QuarantinedFiles int64                          `json:"quarantined_files"`
	TotalBatches     int64                          `json:"total_batches"`
	FailedBatches    int64                          `json:"failed_batches"`
	BatchesByType    map[detloader.SourceType]int64 `json:"batches_by_type"`
}

// Add returns s with every counter of d added. LastRunAt takes the later value.
func (s Stats) Add(d Stats) Stats {
	out := s
	out.BatchesByType = maps.Clone(s.BatchesByType)
	if out.BatchesByType == nil {
		out.BatchesByType = make(map[detloader.SourceType]int64)
	}

	out.Runs += d.Runs
	out.DiscoveredFiles += d.DiscoveredFiles
	out.ParsedRows += d.ParsedRows
	out.NormalizedRows += d.NormalizedRows
	out.RejectedRows += d.RejectedRows
	out.DuplicateRows += d.DuplicateRows
	out.LoadedRows += d.LoadedRows
	out.AlreadyPresent += d.AlreadyPresent
	out.SinkRejectedRows += d.SinkRejectedRows
	out.QuarantinedFiles += d.QuarantinedFiles
	out.TotalBatches += d.TotalBatches
	out.FailedBatches += d.FailedBatches
	for k, v := range d.BatchesByType {
		out.BatchesByType[k] += v
	}
	if d.LastRunAt.After(out.LastRunAt) {
		out.LastRunAt = d.LastRunAt
	}
	return out
}

// IsZero reports whether no counter is set.
func (s Stats) IsZero() bool {
	for _, v := range s.BatchesByType {
		if v != 0 {
			return false
		}
	}
	return s.Runs == 0 && s.DiscoveredFiles == 0 && s.ParsedRows == 0 &&
		s.NormalizedRows == 0 && s.RejectedRows == 0 && s.DuplicateRows == 0 &&
		s.LoadedRows == 0 && s.AlreadyPresent == 0 && s.SinkRejectedRows == 0 &&
		s.QuarantinedFiles == 0 && s.TotalBatches == 0 && s.FailedBatches == 0 &&
		s.LastRunAt.IsZero()
}

// Empty returns a fresh state.
func Empty() RunState {
	return RunState{
		Version:          CurrentVersion,
		ProcessedFiles:   make(map[string]ProcessedFile),
		Tracks:           make(map[detloader.SourceType]TrackState),
		Ledger:           NewLedger(),
		QuarantinedFiles: make(map[string]QuarantinedFile),
		Stats:            Stats{BatchesByType: make(map[detloader.SourceType]int64)},
	}
}

// IsEmpty reports whether the state carries no history at all.
func (s RunState) IsEmpty() bool {
	return len(s.ProcessedFiles) == 0 && s.Ledger.Len() == 0 &&
		len(s.QuarantinedFiles) == 0 && len(s.QuarantinedRows) == 0 && s.Stats.IsZero()
}

// IsProcessed reports whether file has been fully committed.
func (s RunState) IsProcessed(file string) bool {
	_, ok := s.ProcessedFiles[file]
	return ok
}

// LastFlushAt returns the last successful flush time of a track.
func (s RunState) LastFlushAt(t detloader.SourceType) time.Time {
	return s.Tracks[t].LastFlushAt
}

// ProcessedFileNames returns processed file names sorted.
func (s RunState) ProcessedFileNames() []string {
	return slices.Sorted(maps.Keys(s.ProcessedFiles))
}

func (s RunState) clone() RunState {
	out := s
	out.ProcessedFiles = maps.Clone(s.ProcessedFiles)
	out.Tracks = maps.Clone(s.Tracks)
	out.Ledger = s.Ledger.clone()
	out.QuarantinedFiles = maps.Clone(s.QuarantinedFiles)
	out.QuarantinedRows = slices.Clone(s.QuarantinedRows)
	out.Stats = s.Stats.Add(Stats{})
	if out.ProcessedFiles == nil {
		out.ProcessedFiles = make(map[string]ProcessedFile)
	}
	if out.Tracks == nil {
		out.Tracks = make(map[detloader.SourceType]TrackState)
	}
	if out.QuarantinedFiles == nil {
		out.QuarantinedFiles = make(map[string]QuarantinedFile)
	}
	return out
}

// Delta is the set of changes applied by one Commit.
type Delta struct {
	// ProcessedFiles become processed and leave quarantine. The value is the
	// number of records the file contributed.
	ProcessedFiles map[string]int

	// Flushed tracks get LastFlushAt set to the commit time.
	Flushed []detloader.SourceType

	// PendingCounts overwrites the pending count of the listed tracks.
	PendingCounts map[detloader.SourceType]int

	// Fingerprints are appended to the ledger unless already present.
	Fingerprints []string

	// QuarantineFiles maps file name to reason.
	QuarantineFiles map[string]string

	QuarantineRows []detloader.RejectedRow

	// Stats are added to the cumulative counters.
	Stats Stats
}

// IsEmpty reports whether applying d would change nothing but UpdatedAt.
func (d Delta) IsEmpty() bool {
	return len(d.ProcessedFiles) == 0 && len(d.Flushed) == 0 && len(d.PendingCounts) == 0 &&
		len(d.Fingerprints) == 0 && len(d.QuarantineFiles) == 0 && len(d.QuarantineRows) == 0 &&
		d.Stats.IsZero()
}
