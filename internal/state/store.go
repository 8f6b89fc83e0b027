package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// Options bound the growth of the state document.
type Options struct {
	LedgerMaxEntries  int
	LedgerRetention   time.Duration
	QuarantineMaxRows int
}

// DefaultOptions returns the built-in bounds.
func DefaultOptions() Options {
	return Options{
		LedgerMaxEntries:  detloader.DefaultLedgerMaxEntries,
		LedgerRetention:   detloader.DefaultLedgerRetention,
		QuarantineMaxRows: detloader.DefaultQuarantineMaxRows,
	}
}

// Store owns the state file. Commits are serialised; snapshots returned by
// Load and Commit are never modified afterwards. Readers of the current
// snapshot do not wait for a commit's file write.
type Store struct {
	path   string
	opts   Options
	logger detloader.Logger
	now    func() time.Time

	// writeMu serialises Load, Commit and Reset.
	writeMu sync.Mutex

	mu      sync.Mutex
	current RunState
	loaded  bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOptions sets the ledger and quarantine bounds.
func WithOptions(o Options) Option {
	return func(s *Store) { s.opts = o }
}

// NewStore creates a store for the state file at path. Nothing is read until Load.
func NewStore(path string, logger detloader.Logger, opts ...Option) *Store {
	s := &Store{
		path:   path,
		opts:   DefaultOptions(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the state file. A missing file yields an empty state.
func (s *Store) Load() (RunState, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	st, err := s.read()
	if err != nil {
		return RunState{}, err
	}
	s.swap(st)
	return st, nil
}

func (s *Store) swap(st RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = st
	s.loaded = true
}

func (s *Store) read() (RunState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Verbose("No state file at %s, starting empty", s.path)
		return Empty(), nil
	}
	if err != nil {
		return RunState{}, &detloader.StateCorruptionError{Path: s.path, Err: err}
	}
	return decode(s.path, data)
}

func decode(path string, data []byte) (RunState, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return RunState{}, &detloader.StateCorruptionError{Path: path, Err: err}
	}
	if probe.Version == nil {
		return RunState{}, &detloader.StateCorruptionError{Path: path, Err: errors.New("missing version")}
	}
	if *probe.Version != CurrentVersion {
		return RunState{}, &detloader.StateCorruptionError{
			Path: path,
			Err:  fmt.Errorf("unsupported state version %d (want %d)", *probe.Version, CurrentVersion),
		}
	}

	st := Empty()
	if err := json.Unmarshal(data, &st); err != nil {
		return RunState{}, &detloader.StateCorruptionError{Path: path, Err: err}
	}
	// Normalise nil collections left by hand-edited files
	return st.clone(), nil
}

// Current returns the last loaded or committed snapshot.
func (s *Store) Current() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Commit applies delta on top of the current state, persists the result
// atomically and only then makes it current.
func (s *Store) Commit(delta Delta) (RunState, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	cur, loaded := s.current, s.loaded
	s.mu.Unlock()
	if !loaded {
		return RunState{}, errors.New("state store: Commit called before Load")
	}

	now := s.now().UTC()
	next := s.apply(cur.clone(), delta, now)

	if err := s.write(next); err != nil {
		return cur, err
	}
	s.swap(next)
	return next, nil
}

func (s *Store) apply(st RunState, d Delta, now time.Time) RunState {
	st.Version = CurrentVersion
	st.UpdatedAt = now

	for file, n := range d.ProcessedFiles {
		st.ProcessedFiles[file] = ProcessedFile{ProcessedAt: now, Records: n}
		delete(st.QuarantinedFiles, file)
	}

	for _, t := range d.Flushed {
		ts := st.Tracks[t]
		ts.LastFlushAt = now
		st.Tracks[t] = ts
	}
	for t, n := range d.PendingCounts {
		ts := st.Tracks[t]
		ts.PendingCount = n
		st.Tracks[t] = ts
	}

	committed := make(map[string]bool, len(d.Fingerprints))
	for _, fp := range d.Fingerprints {
		st.Ledger.add(fp, now)
		committed[fp] = true
	}
	// A row quarantined by an earlier failed batch is resolved once it loads.
	st.QuarantinedRows = slices.DeleteFunc(st.QuarantinedRows, func(r QuarantinedRow) bool {
		return committed[r.Fingerprint]
	})
	if dropped := st.Ledger.prune(now, s.opts.LedgerRetention, s.opts.LedgerMaxEntries); dropped > 0 {
		s.logger.Verbose("Pruned %d fingerprints from ledger", dropped)
	}

	for file, reason := range d.QuarantineFiles {
		if st.IsProcessed(file) {
			continue
		}
		q := st.QuarantinedFiles[file]
		q.Reason = reason
		q.At = now
		q.Attempts++
		st.QuarantinedFiles[file] = q
	}

	for _, r := range d.QuarantineRows {
		st.QuarantinedRows = append(st.QuarantinedRows, QuarantinedRow{RejectedRow: r, At: now})
	}
	if limit := s.opts.QuarantineMaxRows; limit > 0 && len(st.QuarantinedRows) > limit {
		st.QuarantinedRows = slices.Clone(st.QuarantinedRows[len(st.QuarantinedRows)-limit:])
	}

	st.Stats = st.Stats.Add(d.Stats)
	return st
}

// write persists st with write-temp, fsync, rename, fsync-dir.
func (s *Store) write(st RunState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	committed = true

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open state directory: %w", err)
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename already happened.
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("failed to sync state directory: %w", err)
	}
	return nil
}

// Stats returns a copy of the cumulative counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Stats.Add(Stats{})
}

// Health describes the on-disk state file without loading it into the store.
type Health struct {
	Exists  bool
	Corrupt error
	Empty   bool
}

// Inspect reads the state file and reports whether it exists, decodes and
// carries any history.
func (s *Store) Inspect() Health {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Health{Empty: true}
	}
	if err != nil {
		return Health{Exists: true, Corrupt: err}
	}
	st, err := decode(s.path, data)
	if err != nil {
		return Health{Exists: true, Corrupt: err}
	}
	return Health{Exists: true, Empty: st.IsEmpty()}
}

// Reset replaces the state with an empty one. A corrupt file is kept as
// <path>.corrupt-<unix seconds>.
func (s *Store) Reset() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if h := s.Inspect(); h.Corrupt != nil {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if err := os.Rename(s.path, backup); err != nil {
			return fmt.Errorf("failed to preserve corrupt state file: %w", err)
		}
		s.logger.Warn("Corrupt state preserved at %s", backup)
	}

	empty := Empty()
	empty.UpdatedAt = s.now().UTC()
	if err := s.write(empty); err != nil {
		return err
	}
	s.swap(empty)
	return nil
}
