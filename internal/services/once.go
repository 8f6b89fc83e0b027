package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/vvka-141/detloader/internal/extract"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// RunOnce processes every pending staged file once. Count triggers flush
// synchronously while files are read; whatever is left in the windows is
// flushed with a manual trigger at the end of input.
//
// Quarantined files and rows do not fail the run. The returned error is set
// for state corruption, an unreachable or refusing sink, or cancellation; the
// report is returned in every case but the first.
func (p *Pipeline) RunOnce(ctx context.Context, filter extract.Filter) (*Report, error) {
	st, err := p.store.Load()
	if err != nil {
		return nil, err
	}

	r := p.newRun(st, "run")
	p.logger.Verbose("Run %s started (filter: %s)", r.report.RunID, filterLabel(filter))

	files, err := p.extractor.Discover(st, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory %s: %w", p.extractor.Dir(), err)
	}

	flushTrack := func(b *detloader.Batch) error { return r.drainTrack(ctx, b.SourceType) }

	var runErr error
	for fd := range files {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		if runErr = r.ingestFile(ctx, fd, flushTrack); runErr != nil {
			break
		}
	}

	if runErr == nil {
		for _, b := range r.mgr.FlushAll() {
			if runErr = r.drainTrack(ctx, b.SourceType); runErr != nil {
				break
			}
		}
	}
	if runErr != nil {
		dropped := r.mgr.Discard()
		r.count(func(rep *Report, _ *state.Stats) { rep.DiscardedRows += dropped })
	}

	rep, err := r.finish()
	if runErr != nil {
		return rep, errors.Join(runErr, err)
	}
	return rep, err
}

// drainTrack flushes every queued batch of track t in order.
func (r *run) drainTrack(ctx context.Context, t detloader.SourceType) error {
	for {
		b, ok := r.mgr.Next(t)
		if !ok {
			return nil
		}
		if err := r.flush(ctx, b); err != nil {
			return err
		}
	}
}

func filterLabel(f extract.Filter) string {
	if f.SourceType == "" {
		return "all"
	}
	return string(f.SourceType)
}
