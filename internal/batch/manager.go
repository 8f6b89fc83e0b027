package batch

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vvka-141/detloader/internal/dedupe"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// Clock abstracts time for trigger evaluation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// fileProgress tracks what a staged file still waits for.
type fileProgress struct {
	parsed      bool
	failed      bool
	failReason  string
	records     int            // kept records contributed
	outstanding int            // kept records not yet settled
	deps        map[string]int // fingerprint -> dropped duplicates waiting on it
}

func (f *fileProgress) settled() bool {
	return f.parsed && f.outstanding == 0 && len(f.deps) == 0
}

// IngestResult reports what happened to one record.
type IngestResult struct {
	Outcome dedupe.Outcome

	// Frozen is set when the record completed a window (count trigger).
	Frozen *detloader.Batch
}

// Result is the sink outcome of a batch passed to Settle.
type Result struct {
	Committed bool
	// Rejected lists fingerprints the sink refused inside a committed batch.
	Rejected map[string]bool
}

// Settlement is what a settled batch changes in persisted state.
type Settlement struct {
	Batch     *detloader.Batch
	Committed bool

	// Fingerprints are the committed fingerprints to add to the ledger.
	Fingerprints []string

	// CompletedFiles became fully committed with this batch, with their record counts.
	CompletedFiles map[string]int

	// FailedFiles lost records with this batch and stay unprocessed.
	FailedFiles []string

	// Pending is the open-window size of the batch's track after settling.
	Pending int
}

// Manager routes records to tracks and tracks staged file completion.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	clock  Clock
	tracks map[detloader.SourceType]*Track
	dedupe *dedupe.Deduper
	ledger func() dedupe.LedgerView

	files   map[string]*fileProgress
	waiting map[string][]string // fingerprint -> files holding a dependency on it
}

// NewManager creates a Manager. ledger returns the current committed ledger
// and is consulted under the manager's lock.
func NewManager(clock Clock, tracks map[detloader.SourceType]*Track, ledger func() dedupe.LedgerView) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{
		clock:   clock,
		tracks:  tracks,
		dedupe:  dedupe.New(),
		ledger:  ledger,
		files:   make(map[string]*fileProgress),
		waiting: make(map[string][]string),
	}
}

// Track returns the track for t, nil if the type is not configured.
func (m *Manager) Track(t detloader.SourceType) *Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks[t]
}

// Tracking reports whether file has been opened and not yet settled.
func (m *Manager) Tracking(file string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[file]
	return ok
}

// OpenFile starts tracking a staged file before its rows are ingested.
func (m *Manager) OpenFile(file string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress(file)
}

// Ingest deduplicates rec and adds it to its track's window. If the count
// trigger fires the window is frozen and returned.
func (m *Manager) Ingest(rec detloader.DetectionRecord) (IngestResult, error) {
	g, err := m.IngestAll([]detloader.DetectionRecord{rec})
	if err != nil {
		return IngestResult{}, err
	}
	res := IngestResult{Outcome: dedupe.Keep}
	switch {
	case g.Pending > 0:
		res.Outcome = dedupe.DuplicatePending
	case g.Committed > 0:
		res.Outcome = dedupe.DuplicateCommitted
	}
	if len(g.Frozen) > 0 {
		res.Frozen = g.Frozen[0]
	}
	return res, nil
}

// GroupResult reports what IngestAll did with a group of records.
type GroupResult struct {
	Kept int
	// Pending counts drops that duplicate a record not yet committed; the
	// dropping file waits for that record's batch.
	Pending int
	// Committed counts drops already present in the ledger.
	Committed int
	// Frozen lists the windows the count trigger completed, in order.
	Frozen []*detloader.Batch
}

// IngestAll deduplicates recs in order and adds the kept records to their
// tracks. Every record must belong to a configured track; otherwise nothing
// is ingested.
func (m *Manager) IngestAll(recs []detloader.DetectionRecord) (GroupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range recs {
		if _, ok := m.tracks[rec.SourceType]; !ok {
			return GroupResult{}, fmt.Errorf("no track configured for source type %q", rec.SourceType)
		}
	}

	var ledger dedupe.LedgerView
	if m.ledger != nil {
		ledger = m.ledger()
	}
	kept, dropped, deps := m.dedupe.Dedupe(recs, ledger)
	res := GroupResult{Kept: len(kept), Pending: len(deps), Committed: dropped - len(deps)}

	for _, d := range deps {
		fp := m.progress(d.File)
		if fp.deps[d.Fingerprint] == 0 {
			m.waiting[d.Fingerprint] = append(m.waiting[d.Fingerprint], d.File)
		}
		fp.deps[d.Fingerprint]++
	}

	now := m.clock.Now()
	for _, rec := range kept {
		track := m.tracks[rec.SourceType]
		track.add(rec, now)
		fp := m.progress(rec.StagedFile)
		fp.records++
		fp.outstanding++
		if trigger, due := track.Due(now); due && trigger == detloader.TriggerCount {
			if b := track.freeze(trigger, now); b != nil {
				res.Frozen = append(res.Frozen, b)
			}
		}
	}
	return res, nil
}

// progress returns the bookkeeping of file, creating it when needed.
// Callers hold m.mu.
func (m *Manager) progress(file string) *fileProgress {
	fp := m.files[file]
	if fp == nil {
		fp = &fileProgress{deps: make(map[string]int)}
		m.files[file] = fp
	}
	return fp
}

// FinishFile marks file as fully parsed. It returns true when the file needs
// no further commits, which happens when every row was rejected or was a
// duplicate of a committed record.
func (m *Manager) FinishFile(file string) (complete bool, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp, ok := m.files[file]
	if !ok {
		return true, 0
	}
	fp.parsed = true
	if fp.settled() && !fp.failed {
		delete(m.files, file)
		return true, fp.records
	}
	if fp.settled() {
		delete(m.files, file)
	}
	return false, fp.records
}

// AbortFile marks file as failed: it will not be reported complete even if
// its records commit.
func (m *Manager) AbortFile(file, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp, ok := m.files[file]
	if !ok {
		return
	}
	fp.parsed = true
	fp.failed = true
	fp.failReason = reason
	if fp.settled() {
		delete(m.files, file)
	}
}

// Tick evaluates time and count triggers on every track and freezes due windows.
func (m *Manager) Tick() []*detloader.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var frozen []*detloader.Batch
	for _, t := range detloader.SourceTypes {
		track := m.tracks[t]
		if track == nil {
			continue
		}
		if trigger, due := track.Due(now); due {
			frozen = append(frozen, track.freeze(trigger, now))
		}
	}
	return frozen
}

// FlushAll freezes every non-empty window with a manual trigger.
func (m *Manager) FlushAll() []*detloader.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var frozen []*detloader.Batch
	for _, t := range detloader.SourceTypes {
		if track := m.tracks[t]; track != nil {
			if b := track.freeze(detloader.TriggerManual, now); b != nil {
				frozen = append(frozen, b)
			}
		}
	}
	return frozen
}

// Next hands out the next queued batch of track t, or false when the track
// has nothing queued or already has a batch in flight.
func (m *Manager) Next(t detloader.SourceType) (*detloader.Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	track := m.tracks[t]
	if track == nil {
		return nil, false
	}
	return track.begin()
}

// Settle records the outcome of an in-flight batch. commit receives the
// resulting Settlement and must persist it; bookkeeping is only advanced if
// commit succeeds. The manager lock is released while commit runs, so other
// tracks keep ingesting. Records that duplicate the batch meanwhile wait on
// it like any other pending duplicate.
//
// Settle returns the files that became complete only after commit, because
// their last dependency or their other track settled while it ran. The caller
// must persist them as processed.
func (m *Manager) Settle(b *detloader.Batch, res Result, commit func(Settlement) error) (map[string]int, error) {
	m.mu.Lock()
	track := m.tracks[b.SourceType]
	if track == nil || track.inFlight == nil || track.inFlight.ID != b.ID {
		m.mu.Unlock()
		return nil, fmt.Errorf("batch %s is not in flight", b.ID)
	}
	s := m.project(track, b, res)
	m.mu.Unlock()

	if commit != nil {
		if err := commit(s); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	track.finish(b, m.clock.Now(), res.Committed)

	fps := make([]string, 0, len(b.Records))
	touched := make(map[string]bool)
	for _, rec := range b.Records {
		fps = append(fps, rec.Fingerprint)
		touched[rec.StagedFile] = true
		if fp := m.files[rec.StagedFile]; fp != nil {
			fp.outstanding--
			if !res.Committed {
				fp.failed = true
			}
		}
	}
	m.dedupe.Resolve(fps)
	for _, dep := range fps {
		for _, file := range m.waiting[dep] {
			touched[file] = true
			if fp := m.files[file]; fp != nil {
				delete(fp.deps, dep)
				if !res.Committed {
					fp.failed = true
				}
			}
		}
		delete(m.waiting, dep)
	}

	late := make(map[string]int)
	for file := range touched {
		fp := m.files[file]
		if fp == nil || !fp.settled() {
			continue
		}
		if _, done := s.CompletedFiles[file]; !done && !fp.failed {
			late[file] = fp.records
		}
		delete(m.files, file)
	}
	return late, nil
}

// project works out what settling b changes without touching bookkeeping.
// Callers hold m.mu.
func (m *Manager) project(track *Track, b *detloader.Batch, res Result) Settlement {
	s := Settlement{
		Batch:          b,
		Committed:      res.Committed,
		CompletedFiles: make(map[string]int),
		Pending:        track.Pending(),
	}

	touched := make(map[string]bool)
	failedSet := make(map[string]bool)
	inBatch := make(map[string]bool, len(b.Records))
	perFile := make(map[string]int)

	for _, rec := range b.Records {
		inBatch[rec.Fingerprint] = true
		touched[rec.StagedFile] = true
		perFile[rec.StagedFile]++
		if !res.Committed {
			failedSet[rec.StagedFile] = true
			continue
		}
		if !res.Rejected[rec.Fingerprint] {
			s.Fingerprints = append(s.Fingerprints, rec.Fingerprint)
		}
	}
	for fp := range inBatch {
		for _, file := range m.waiting[fp] {
			touched[file] = true
			if !res.Committed {
				failedSet[file] = true
			}
		}
	}

	for file := range touched {
		fp := m.files[file]
		if fp == nil {
			continue
		}
		outstanding := fp.outstanding - perFile[file]
		deps := 0
		for dep, n := range fp.deps {
			if !inBatch[dep] {
				deps += n
			}
		}
		failed := fp.failed || failedSet[file]
		if fp.parsed && outstanding == 0 && deps == 0 && !failed {
			s.CompletedFiles[file] = fp.records
		}
	}
	for file := range failedSet {
		s.FailedFiles = append(s.FailedFiles, file)
	}
	slices.Sort(s.FailedFiles)
	return s
}

// Discard drops every open window and queued batch, for shutdown. The records'
// files stay unprocessed and are rediscovered on the next start. In-flight
// batches are left to settle.
func (m *Manager) Discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for _, track := range m.tracks {
		for _, rec := range track.discard() {
			dropped++
			m.dedupe.Resolve([]string{rec.Fingerprint})
			if fp := m.files[rec.StagedFile]; fp != nil {
				fp.failed = true
				fp.outstanding--
			}
			for _, file := range m.waiting[rec.Fingerprint] {
				if fp := m.files[file]; fp != nil {
					fp.failed = true
					delete(fp.deps, rec.Fingerprint)
				}
			}
			delete(m.waiting, rec.Fingerprint)
		}
	}
	for file, fp := range m.files {
		if fp.settled() {
			delete(m.files, file)
		}
	}
	return dropped
}

// Snapshot is a point-in-time view of a track for reporting.
type Snapshot struct {
	Type        detloader.SourceType
	Phase       Phase
	Pending     int
	Queued      int
	LastFlushAt time.Time
}

// Snapshots reports every track's state.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Snapshot
	for _, t := range detloader.SourceTypes {
		if track := m.tracks[t]; track != nil {
			out = append(out, Snapshot{
				Type:        t,
				Phase:       track.Phase(),
				Pending:     track.Pending(),
				Queued:      track.Queued(),
				LastFlushAt: track.LastFlushAt(),
			})
		}
	}
	return out
}

// OpenFiles returns the number of staged files still being tracked.
func (m *Manager) OpenFiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
