package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vvka-141/detloader/internal/metrics"
	"github.com/vvka-141/detloader/pkg/detloader"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep loading staged files until interrupted",
	Long: `Daemon watches the staging directory and loads new files as they arrive.

Every check interval it discovers new files and flushes video batches whose
time window has elapsed. Image batches flush as soon as they reach their count
threshold. On SIGINT or SIGTERM it stops reading, finishes the batch that is
being written (bounded by daemon.drain_timeout), discards the rest and exits.

Set daemon.metrics_addr (or DETLOADER_METRICS_ADDR) to expose Prometheus
metrics at /metrics and a liveness probe at /health.

Examples:
  detloader daemon
  DETLOADER_METRICS_ADDR=:9102 detloader daemon -v`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

type daemonFlagValues struct {
	sourceType  string
	metricsAddr string
}

var daemonFlags daemonFlagValues

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonFlags.sourceType, "source-type", "all",
		"Limit the daemon to one track: all|image|video")
	daemonCmd.Flags().StringVar(&daemonFlags.metricsAddr, "metrics-addr", "",
		"Listen address for /metrics (overrides daemon.metrics_addr)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(daemonFlags.sourceType)
	if err != nil {
		return err
	}

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	addr := env.cfg.Daemon.MetricsAddr
	if daemonFlags.metricsAddr != "" {
		addr = daemonFlags.metricsAddr
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	pool, release, err := env.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	var m *metrics.Metrics
	if addr != "" {
		m = metrics.New()
	}
	p := env.pipeline(env.sink(pool), m)

	// The metrics server outlives the pipeline so the final counters stay scrapeable
	// until the daemon returns.
	srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	g, _ := errgroup.WithContext(srvCtx)
	if m != nil {
		g.Go(func() error { return m.Serve(srvCtx, addr, env.logger) })
	}

	_, runErr := p.RunDaemon(ctx, filter)
	stopServer()

	if err := g.Wait(); err != nil {
		env.logger.Error("Metrics server: %v", err)
	}
	// A signal is a clean stop unless a classified failure came with it.
	if ctx.Err() != nil && errors.Is(runErr, context.Canceled) &&
		detloader.ExitCodeForError(runErr) == detloader.ExitGeneralError {
		env.logger.Info("Daemon stopped")
		return nil
	}
	return runErr
}
