package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vvka-141/detloader/internal/batch"
	"github.com/vvka-141/detloader/internal/extract"
	"github.com/vvka-141/detloader/internal/loader"
	"github.com/vvka-141/detloader/internal/logging"
	"github.com/vvka-141/detloader/internal/staging"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/internal/transform"
	"github.com/vvka-141/detloader/internal/warehouse"
	"github.com/vvka-141/detloader/pkg/detloader"
)

const csvHeader = "source_file,source_type,frame_number,frame_timestamp,class_name,confidence,bbox_x1,bbox_y1,bbox_x2,bbox_y2,image_width,image_height\n"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t         *testing.T
	staging   *staging.MemoryProvider
	sink      detloader.Sink
	mem       *warehouse.MemorySink
	statePath string
	clock     *fakeClock
	logger    *logging.CaptureLogger
	opts      Options
	attempts  int
	store     *state.Store
	staged    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := warehouse.NewMemorySink()
	return &harness{
		t:         t,
		staging:   staging.NewMemoryProvider("/staging"),
		sink:      mem,
		mem:       mem,
		statePath: filepath.Join(t.TempDir(), "etl_state.json"),
		clock:     newFakeClock(),
		logger:    logging.NewCaptureLogger(),
		opts: Options{
			Tracks:        batch.DefaultTrackConfigs(),
			CheckInterval: time.Minute,
			DrainTimeout:  time.Second,
		},
		attempts: 2,
	}
}

// pipeline builds a fresh Pipeline over the harness's staging area, sink and
// state file, as a restarted process would.
func (h *harness) pipeline() *Pipeline {
	h.t.Helper()
	policy := loader.DefaultRetryPolicy()
	policy.MaxAttempts = h.attempts
	exec := policy.Executor().WithSleep(func(context.Context, time.Duration) error { return nil })

	h.store = state.NewStore(h.statePath, h.logger, state.WithClock(h.clock.Now))
	opts := h.opts
	opts.Clock = h.clock
	return NewPipeline(
		extract.New(h.staging, h.staging.Root(), h.logger),
		transform.New(transform.DefaultOptions()),
		loader.New(h.sink, exec, h.logger),
		h.store,
		h.logger,
		opts,
	)
}

func (h *harness) runOnce(filter extract.Filter) *Report {
	h.t.Helper()
	rep, err := h.pipeline().RunOnce(context.Background(), filter)
	require.NoError(h.t, err)
	return rep
}

func (h *harness) state() state.RunState {
	h.t.Helper()
	st, err := state.NewStore(h.statePath, logging.NewNullLogger()).Load()
	require.NoError(h.t, err)
	return st
}

// stage adds a file with rows; each modification time is one second after
// the previous file's so discovery order follows staging order.
func (h *harness) stage(name string, rows ...string) {
	h.staged++
	mtime := time.Date(2026, 3, 1, 0, 0, h.staged, 0, time.UTC)
	h.staging.AddFileWithTime(name, csvHeader+strings.Join(rows, "\n")+"\n", mtime)
}

func videoRow(source string, frame int, class string, conf float64, x1 float64) string {
	return fmt.Sprintf("%s,video,%d,%.2f,%s,%.2f,%.2f,20,%.2f,100,640,480",
		source, frame, float64(frame)/25, class, conf, x1, x1+40)
}

func imageRow(source string, class string, conf float64, x1 float64) string {
	return fmt.Sprintf("%s,image,,,%s,%.2f,%.2f,20,%.2f,100,640,480",
		source, class, conf, x1, x1+40)
}
