package services

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vvka-141/detloader/internal/extract"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// daemon adds the long-running parts to a run.
type daemon struct {
	*run
	filter    extract.Filter
	scheduler *Scheduler
	wake      map[detloader.SourceType]chan struct{}

	// skip holds quarantined files by modification time; they are retried
	// once the file changes.
	skip map[string]time.Time
}

// RunDaemon ingests new staged files every check interval until ctx is done.
//
// Each track has its own flush worker, so a slow sink never blocks ingestion
// or the other track. On cancellation ingestion stops, in-flight batches are
// given DrainTimeout to commit or fail cleanly, and open windows are
// discarded: their files were never marked processed and are re-read on the
// next start. A fatal load or state error stops the daemon the same way and
// is returned.
func (p *Pipeline) RunDaemon(ctx context.Context, filter extract.Filter) (*Report, error) {
	return p.runDaemon(ctx, filter, NewScheduler(p.opts.CheckInterval))
}

func (p *Pipeline) runDaemon(ctx context.Context, filter extract.Filter, sched *Scheduler) (*Report, error) {
	st, err := p.store.Load()
	if err != nil {
		return nil, err
	}

	d := &daemon{
		run:       p.newRun(st, "daemon"),
		filter:    filter,
		scheduler: sched,
		wake:      make(map[detloader.SourceType]chan struct{}),
		skip:      make(map[string]time.Time),
	}
	d.onQuarantine = func(fd extract.FileDescriptor) { d.skip[fd.Name] = fd.ModTime }
	p.logger.Info("Daemon %s started: checking %s every %v", d.report.RunID, p.extractor.Dir(), p.opts.CheckInterval)

	// Flushes outlive ctx so shutdown can finish them; the drain deadline
	// cancels this context instead.
	flushCtx, cancelFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFlush()

	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(context.Background())
	for t := range p.opts.Tracks {
		wake := make(chan struct{}, 1)
		d.wake[t] = wake
		g.Go(func() error { return d.work(flushCtx, t, wake, stop) })
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	unwatch := context.AfterFunc(gctx, cancelLoop)
	defer unwatch()

	loopErr := sched.Run(loopCtx, d.handle)

	d.stopping.Store(true)
	close(stop)
	if ctx.Err() != nil {
		p.logger.Info("Shutting down: waiting up to %v for in-flight batches", p.opts.DrainTimeout)
	}
	drain := time.AfterFunc(p.opts.DrainTimeout, cancelFlush)
	workErr := g.Wait()
	drain.Stop()

	dropped := d.mgr.Discard()
	d.count(func(rep *Report, _ *state.Stats) { rep.DiscardedRows += dropped })

	rep, err := d.finish()
	fired := sched.Fired()
	p.logger.Verbose("Scheduler fired %d %s and %d %s events",
		fired[SourceVideoTimer], SourceVideoTimer, fired[SourceImageCount], SourceImageCount)
	return rep, errors.Join(workErr, loopErr, err)
}

// handle runs one scheduler event.
func (d *daemon) handle(ctx context.Context, source string) error {
	switch source {
	case SourceVideoTimer:
		if err := d.cycle(ctx); err != nil {
			return err
		}
		for _, b := range d.mgr.Tick() {
			d.p.logger.Verbose("%s window due (%s trigger, %d records)", b.SourceType, b.Trigger, b.Len())
			d.dispatch(b.SourceType)
		}
	case SourceImageCount:
		// Covers wake-ups coalesced while a worker was busy.
		for _, snap := range d.mgr.Snapshots() {
			if snap.Queued > 0 {
				d.dispatch(snap.Type)
			}
		}
	}
	for _, snap := range d.mgr.Snapshots() {
		d.metrics.SetPending(snap.Type, snap.Pending)
	}
	return nil
}

// cycle discovers and ingests staged files that are not already in progress.
func (d *daemon) cycle(ctx context.Context) error {
	d.metrics.Cycle()

	files, err := d.p.extractor.Discover(d.p.store.Current(), d.filter)
	if err != nil {
		// The staging directory may be remounted or recreated; try again next tick.
		d.p.logger.Error("Failed to read staging directory %s: %v", d.p.extractor.Dir(), err)
		return nil
	}

	onFrozen := func(b *detloader.Batch) error {
		d.dispatch(b.SourceType)
		d.scheduler.NotifyCount()
		return nil
	}

	for fd := range files {
		if ctx.Err() != nil {
			return nil
		}
		if d.mgr.Tracking(fd.Name) {
			continue
		}
		if mtime, ok := d.skip[fd.Name]; ok {
			if mtime.Equal(fd.ModTime) {
				continue
			}
			delete(d.skip, fd.Name)
		}

		if err := d.ingestFile(ctx, fd, onFrozen); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// dispatch wakes the flush worker of track t.
func (d *daemon) dispatch(t detloader.SourceType) {
	select {
	case d.wake[t] <- struct{}{}:
	default:
	}
}

// work flushes the queued batches of track t one at a time until stop is
// closed. A batch already in flight when stop closes is finished first.
func (d *daemon) work(ctx context.Context, t detloader.SourceType, wake <-chan struct{}, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case <-wake:
		}
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			b, ok := d.mgr.Next(t)
			if !ok {
				break
			}
			if err := d.flush(ctx, b); err != nil {
				return err
			}
		}
	}
}
