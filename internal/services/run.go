package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vvka-141/detloader/internal/batch"
	"github.com/vvka-141/detloader/internal/dedupe"
	"github.com/vvka-141/detloader/internal/extract"
	"github.com/vvka-141/detloader/internal/metrics"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// ingestGroupSize is how many normalized records are deduplicated together.
const ingestGroupSize = 256

// run is the working set of one RunOnce or RunDaemon call.
type run struct {
	p       *Pipeline
	mgr     *batch.Manager
	metrics *metrics.Metrics

	// onQuarantine, when set, is told about every quarantined file.
	onQuarantine func(fd extract.FileDescriptor)

	// stopping is set once shutdown began; load errors caused by the drain
	// deadline are then expected.
	stopping atomic.Bool

	mu     sync.Mutex
	report *Report
	// unsaved holds counters not yet written to the state store.
	unsaved state.Stats
}

func (p *Pipeline) newRun(st state.RunState, mode string) *run {
	tracks := make(map[detloader.SourceType]*batch.Track, len(p.opts.Tracks))
	for t, cfg := range p.opts.Tracks {
		tracks[t] = batch.NewTrack(t, cfg, st.LastFlushAt(t))
	}
	ledger := func() dedupe.LedgerView { return p.store.Current().Ledger }

	return &run{
		p:       p,
		mgr:     batch.NewManager(p.opts.Clock, tracks, ledger),
		metrics: p.opts.Metrics,
		report:  newReport(mode, p.opts.Clock.Now()),
	}
}

// ingestFile streams fd through transform and dedupe into the batch manager.
// onFrozen is called for every window the count trigger freezes. File-level
// failures quarantine the file and return nil.
func (r *run) ingestFile(ctx context.Context, fd extract.FileDescriptor, onFrozen func(*detloader.Batch) error) error {
	logger := r.p.logger
	logger.Verbose("Reading %s (%s, %d bytes)", fd.Name, typeLabel(fd.Type), fd.Size)

	r.mgr.OpenFile(fd.Name)
	r.count(func(rep *Report, s *state.Stats) {
		rep.DiscoveredFiles++
		s.DiscoveredFiles++
	})
	r.metrics.FilesDiscovered(1)

	var parsed, parseErrs, normalized, rejected, duplicates int
	flushCounts := func() {
		r.count(func(rep *Report, s *state.Stats) {
			rep.ParsedRows += parsed
			rep.ParseErrors += parseErrs
			rep.NormalizedRows += normalized
			rep.RejectedRows += rejected
			rep.DuplicateRows += duplicates
			s.ParsedRows += int64(parsed + parseErrs)
			s.NormalizedRows += int64(normalized)
			s.RejectedRows += int64(rejected + parseErrs)
			s.DuplicateRows += int64(duplicates)
		})
		r.metrics.ObserveRows(metrics.StageParsed, parsed)
		r.metrics.ObserveRows(metrics.StageParseError, parseErrs)
		r.metrics.ObserveRows(metrics.StageNormalized, normalized)
		r.metrics.ObserveRows(metrics.StageRejected, rejected)
		r.metrics.ObserveRows(metrics.StageDuplicate, duplicates)
	}
	defer flushCounts()

	group := make([]detloader.DetectionRecord, 0, ingestGroupSize)
	ingestGroup := func() error {
		if len(group) == 0 {
			return nil
		}
		res, err := r.mgr.IngestAll(group)
		group = group[:0]
		if err != nil {
			return err
		}
		if dropped := res.Pending + res.Committed; dropped > 0 {
			duplicates += dropped
			logger.Verbose("%s: dropped %d duplicates (%d pending, %d already loaded)", fd.Name, dropped, res.Pending, res.Committed)
		}
		for _, b := range res.Frozen {
			logger.Verbose("%s window reached %d records, flushing", b.SourceType, b.Len())
			if err := onFrozen(b); err != nil {
				return err
			}
		}
		return nil
	}

	for row, err := range r.p.extractor.Parse(fd) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.mgr.AbortFile(fd.Name, "interrupted")
			return ctxErr
		}
		if err != nil {
			if detloader.IsFileLevel(err) {
				return r.quarantine(fd, err)
			}
			parseErrs++
			logger.Warn("%v", err)
			continue
		}
		parsed++

		rec, err := r.p.transformer.Normalize(row.Schema, row.Row)
		if err != nil {
			rejected++
			logger.Verbose("Rejected: %v", err)
			continue
		}
		normalized++

		if r.mgr.Track(rec.SourceType) == nil {
			rejected++
			logger.Warn("%s:%d: no track configured for source type %q", rec.StagedFile, rec.Line, rec.SourceType)
			continue
		}
		group = append(group, rec)
		if len(group) < ingestGroupSize {
			continue
		}
		if err := ingestGroup(); err != nil {
			r.mgr.AbortFile(fd.Name, "run aborted")
			return err
		}
	}
	if err := ingestGroup(); err != nil {
		r.mgr.AbortFile(fd.Name, "run aborted")
		return err
	}

	complete, records := r.mgr.FinishFile(fd.Name)
	if !complete {
		return nil
	}
	// Every row was rejected, dropped as already loaded, or committed by an
	// earlier flush; nothing left to wait for.
	return r.commit(state.Delta{ProcessedFiles: map[string]int{fd.Name: records}}, func(rep *Report) {
		rep.ProcessedFiles = append(rep.ProcessedFiles, fd.Name)
	})
}

// quarantine sets fd aside after a file-level failure.
func (r *run) quarantine(fd extract.FileDescriptor, cause error) error {
	reason := cause.Error()
	r.mgr.AbortFile(fd.Name, reason)
	r.p.logger.Warn("Quarantining %s: %s", fd.Name, reason)
	r.metrics.FileQuarantined()
	if r.onQuarantine != nil {
		r.onQuarantine(fd)
	}

	return r.commit(state.Delta{
		QuarantineFiles: map[string]string{fd.Name: reason},
		Stats:           state.Stats{QuarantinedFiles: 1},
	}, func(rep *Report) {
		rep.QuarantinedFiles[fd.Name] = reason
	})
}

// flush loads one in-flight batch and settles it. The returned error is
// run-fatal: the sink stayed unreachable, refused the whole batch, or the
// state could not be persisted.
func (r *run) flush(ctx context.Context, b *detloader.Batch) error {
	logger := r.p.logger
	start := time.Now()
	res, loadErr := r.p.loader.Load(ctx, b)
	r.metrics.ObserveBatch(b, res, time.Since(start))

	rejected := make(map[string]bool, len(res.RejectedRows))
	for _, row := range res.RejectedRows {
		rejected[row.Fingerprint] = true
	}

	var completed []string
	late, err := r.mgr.Settle(b, batch.Result{Committed: res.Committed, Rejected: rejected}, func(s batch.Settlement) error {
		delta := r.settlementDelta(s, res, loadErr)
		if _, err := r.p.store.Commit(delta); err != nil {
			return err
		}
		for file := range s.CompletedFiles {
			completed = append(completed, file)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record batch %s in state: %w", b.ID, err)
	}
	if len(late) > 0 {
		if err := r.commit(state.Delta{ProcessedFiles: late}, nil); err != nil {
			return err
		}
		for file := range late {
			completed = append(completed, file)
		}
	}
	r.metrics.SetPending(b.SourceType, r.mgr.Track(b.SourceType).Pending())
	r.metrics.FilesProcessed(len(completed))

	r.mu.Lock()
	r.report.ProcessedFiles = append(r.report.ProcessedFiles, completed...)
	if res.Committed {
		r.report.Batches++
		r.report.BatchesByType[b.SourceType]++
		r.report.Triggers[b.Trigger]++
		r.report.LoadedRows += res.AcceptedCount - res.AlreadyPresent
		r.report.AlreadyPresent += res.AlreadyPresent
		r.report.SinkRejectedRows += len(res.RejectedRows)
	} else {
		r.report.FailedBatches++
	}
	r.mu.Unlock()

	if res.Committed {
		r.metrics.ObserveRows(metrics.StageLoaded, res.AcceptedCount-res.AlreadyPresent)
		r.metrics.ObserveRows(metrics.StageAlreadyPresent, res.AlreadyPresent)
		r.metrics.ObserveRows(metrics.StageSinkRejected, len(res.RejectedRows))
		logger.Info("Loaded %s batch %s (%s trigger): %d new rows, %d already present, %d rejected, %d files completed",
			b.SourceType, b.ID, b.Trigger, res.AcceptedCount-res.AlreadyPresent, res.AlreadyPresent, len(res.RejectedRows), len(completed))
		for _, row := range res.RejectedRows {
			logger.Warn("Sink rejected %s:%d (%s): %s", row.StagedFile, row.Line, row.Fingerprint, row.Reason)
		}
		return nil
	}

	if r.stopping.Load() && (errors.Is(loadErr, context.Canceled) || errors.Is(loadErr, context.DeadlineExceeded)) {
		logger.Warn("Batch %s (%d rows) interrupted by shutdown; its files stay unprocessed", b.ID, b.Len())
		return nil
	}
	logger.Error("Batch %s (%d %s rows) failed after %d attempt(s): %v", b.ID, b.Len(), b.SourceType, res.Attempts, loadErr)
	return loadErr
}

// settlementDelta turns a settled batch into a state change.
func (r *run) settlementDelta(s batch.Settlement, res detloader.LoadResult, loadErr error) state.Delta {
	b := s.Batch
	d := state.Delta{
		ProcessedFiles: s.CompletedFiles,
		PendingCounts:  map[detloader.SourceType]int{b.SourceType: s.Pending},
		Fingerprints:   s.Fingerprints,
	}

	if s.Committed {
		d.Flushed = []detloader.SourceType{b.SourceType}
		d.QuarantineRows = res.RejectedRows
		d.Stats = state.Stats{
			TotalBatches:     1,
			BatchesByType:    map[detloader.SourceType]int64{b.SourceType: 1},
			LoadedRows:       int64(res.AcceptedCount - res.AlreadyPresent),
			AlreadyPresent:   int64(res.AlreadyPresent),
			SinkRejectedRows: int64(len(res.RejectedRows)),
		}
	} else {
		reason := detloader.ReasonSinkUnavailable
		if errors.Is(loadErr, detloader.ErrSinkRejected) {
			reason = detloader.ReasonSinkRejectedBatch
		}
		d.QuarantineRows = make([]detloader.RejectedRow, 0, len(b.Records))
		for _, rec := range b.Records {
			d.QuarantineRows = append(d.QuarantineRows, detloader.RejectedRow{
				Fingerprint: rec.Fingerprint,
				StagedFile:  rec.StagedFile,
				Line:        rec.Line,
				Reason:      reason,
			})
		}
		d.Stats = state.Stats{FailedBatches: 1}
	}

	d.Stats = d.Stats.Add(r.takeUnsaved())
	return d
}

// commit persists delta together with any unsaved counters. apply updates
// the report after a successful commit.
func (r *run) commit(delta state.Delta, apply func(*Report)) error {
	delta.Stats = delta.Stats.Add(r.takeUnsaved())
	if _, err := r.p.store.Commit(delta); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	if apply != nil {
		r.mu.Lock()
		apply(r.report)
		r.mu.Unlock()
	}
	if len(delta.ProcessedFiles) > 0 {
		r.metrics.FilesProcessed(len(delta.ProcessedFiles))
	}
	return nil
}

// finish commits the closing counters and returns the report.
func (r *run) finish() (*Report, error) {
	now := r.p.opts.Clock.Now()
	pending := make(map[detloader.SourceType]int)
	for _, snap := range r.mgr.Snapshots() {
		pending[snap.Type] = snap.Pending
	}
	r.mu.Lock()
	idle := !r.report.HasWork() && r.unsaved.IsZero()
	r.mu.Unlock()

	// A run that found nothing leaves the state file untouched.
	var err error
	if !idle {
		err = r.commit(state.Delta{
			PendingCounts: pending,
			Stats:         state.Stats{Runs: 1, LastRunAt: now.UTC()},
		}, nil)
	}

	r.mu.Lock()
	r.report.FinishedAt = now
	r.report.Cumulative = r.p.store.Stats()
	rep := *r.report
	r.mu.Unlock()

	rep.log(r.p.logger)
	return &rep, err
}

func (r *run) count(fn func(*Report, *state.Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.report, &r.unsaved)
}

func (r *run) takeUnsaved() state.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.unsaved
	r.unsaved = state.Stats{}
	return s
}

func typeLabel(t detloader.SourceType) string {
	if t == "" {
		return "mixed"
	}
	return string(t)
}
