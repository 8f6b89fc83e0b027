// Package metrics exposes pipeline counters to Prometheus in daemon mode.
//
// A nil *Metrics is valid and records nothing, so run-once code paths can
// share the daemon's instrumentation calls.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vvka-141/detloader/pkg/detloader"
)

const namespace = "detloader"

// Row stages reported by ObserveRows.
const (
	StageParsed         = "parsed"
	StageParseError     = "parse_error"
	StageNormalized     = "normalized"
	StageRejected       = "rejected"
	StageDuplicate      = "duplicate"
	StageLoaded         = "loaded"
	StageAlreadyPresent = "already_present"
	StageSinkRejected   = "sink_rejected"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	filesDiscovered  prometheus.Counter
	filesProcessed   prometheus.Counter
	filesQuarantined prometheus.Counter
	rows             *prometheus.CounterVec
	batches          *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	batchAttempts    *prometheus.HistogramVec
	pending          *prometheus.GaugeVec
	lastFlush        *prometheus.GaugeVec
	cycles           prometheus.Counter
}

// New creates Metrics with Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_discovered_total",
			Help: "Staged files picked up for ingestion.",
		}),
		filesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_processed_total",
			Help: "Staged files whose records were fully committed.",
		}),
		filesQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_quarantined_total",
			Help: "Staged files set aside after a file-level failure.",
		}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_total",
			Help: "Rows by pipeline stage.",
		}, []string{"stage"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_total",
			Help: "Flushed batches by source type, trigger and outcome.",
		}, []string{"source_type", "trigger", "outcome"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_load_seconds",
			Help:    "Time spent loading a batch, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"source_type"}),
		batchAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_load_attempts",
			Help:    "Sink calls made per batch.",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}, []string{"source_type"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_records",
			Help: "Records in the open collection window.",
		}, []string{"source_type"}),
		lastFlush: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_flush_timestamp_seconds",
			Help: "Unix time of the last settled flush.",
		}, []string{"source_type"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "daemon_cycles_total",
			Help: "Daemon discovery cycles.",
		}),
	}

	m.registry.MustRegister(
		m.filesDiscovered, m.filesProcessed, m.filesQuarantined,
		m.rows, m.batches, m.batchDuration, m.batchAttempts,
		m.pending, m.lastFlush, m.cycles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FilesDiscovered adds n discovered files.
func (m *Metrics) FilesDiscovered(n int) {
	if m == nil {
		return
	}
	m.filesDiscovered.Add(float64(n))
}

// FilesProcessed adds n committed files.
func (m *Metrics) FilesProcessed(n int) {
	if m == nil {
		return
	}
	m.filesProcessed.Add(float64(n))
}

// FileQuarantined counts one quarantined file.
func (m *Metrics) FileQuarantined() {
	if m == nil {
		return
	}
	m.filesQuarantined.Inc()
}

// ObserveRows adds n rows at stage.
func (m *Metrics) ObserveRows(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rows.WithLabelValues(stage).Add(float64(n))
}

// ObserveBatch records a settled batch.
func (m *Metrics) ObserveBatch(b *detloader.Batch, res detloader.LoadResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "committed"
	if !res.Committed {
		outcome = "failed"
	}
	st := string(b.SourceType)
	m.batches.WithLabelValues(st, string(b.Trigger), outcome).Inc()
	m.batchDuration.WithLabelValues(st).Observe(elapsed.Seconds())
	m.batchAttempts.WithLabelValues(st).Observe(float64(res.Attempts))
	m.lastFlush.WithLabelValues(st).Set(float64(time.Now().Unix()))
}

// SetPending sets the open-window size of a track.
func (m *Metrics) SetPending(t detloader.SourceType, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(string(t)).Set(float64(n))
}

// Cycle counts one daemon discovery cycle.
func (m *Metrics) Cycle() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve exposes Handler on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger detloader.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
