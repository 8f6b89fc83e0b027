package services

import (
	"time"

	"github.com/vvka-141/detloader/internal/batch"
	"github.com/vvka-141/detloader/internal/extract"
	"github.com/vvka-141/detloader/internal/loader"
	"github.com/vvka-141/detloader/internal/metrics"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/internal/transform"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// Options tune a Pipeline. Zero values take the built-in defaults.
type Options struct {
	Tracks        map[detloader.SourceType]batch.TrackConfig
	CheckInterval time.Duration
	DrainTimeout  time.Duration

	// Clock drives trigger evaluation. Defaults to the system clock.
	Clock batch.Clock

	// Metrics is optional; nil records nothing.
	Metrics *metrics.Metrics
}

// Pipeline runs the extract, transform, dedupe, batch, load and commit stages.
//
// Thread-Safety: RunOnce and RunDaemon must not run concurrently on the same
// Pipeline; both own the state store for their whole duration.
type Pipeline struct {
	extractor   *extract.Extractor
	transformer *transform.Transformer
	loader      *loader.Loader
	store       *state.Store
	logger      detloader.Logger
	opts        Options
}

// NewPipeline creates a Pipeline.
// Panics if any dependency is nil.
func NewPipeline(
	extractor *extract.Extractor,
	transformer *transform.Transformer,
	loader *loader.Loader,
	store *state.Store,
	logger detloader.Logger,
	opts Options,
) *Pipeline {
	if extractor == nil {
		panic("extractor cannot be nil")
	}
	if transformer == nil {
		panic("transformer cannot be nil")
	}
	if loader == nil {
		panic("loader cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	if opts.Tracks == nil {
		opts.Tracks = batch.DefaultTrackConfigs()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = detloader.DefaultCheckInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = detloader.DefaultDrainTimeout
	}
	if opts.Clock == nil {
		opts.Clock = batch.SystemClock()
	}

	return &Pipeline{
		extractor:   extractor,
		transformer: transformer,
		loader:      loader,
		store:       store,
		logger:      logger,
		opts:        opts,
	}
}
