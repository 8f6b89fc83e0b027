package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/detloader/internal/loader"
	"github.com/vvka-141/detloader/pkg/detloader"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete warehouse detections older than the retention period",
	Long: `Cleanup deletes detections whose processing date is older than the
retention period from the warehouse table. The period comes from --days, or
from warehouse.retention in the config file (30 days by default).

The state file is not touched: files already processed stay processed.

Examples:
  detloader cleanup
  detloader cleanup --days 90`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

type cleanupFlagValues struct {
	days int
}

var cleanupFlags cleanupFlagValues

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupFlags.days, "days", 0,
		"Keep this many days of detections (default: warehouse.retention)")
}

// cleanupRetention resolves the retention period from --days and the config.
func cleanupRetention(days int, configured time.Duration) (time.Duration, error) {
	switch {
	case days < 0:
		return 0, fmt.Errorf("invalid argument for --days: %d must be positive", days)
	case days > 0:
		return time.Duration(days) * 24 * time.Hour, nil
	case configured > 0:
		return configured, nil
	default:
		return 0, fmt.Errorf("no retention period: set --days or warehouse.retention: %w", detloader.ErrInvalidConfig)
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupFlags.days < 0 {
		return fmt.Errorf("invalid argument for --days: %d must be positive", cleanupFlags.days)
	}

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	retention, err := cleanupRetention(cleanupFlags.days, env.cfg.Warehouse.Retention)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	pool, release, err := env.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	ld := loader.New(env.sink(pool), env.retryPolicy().Executor(), env.logger)
	n, err := ld.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	env.logger.Info("Deleted %d detections older than %s from %s.%s",
		n, humanizeRetention(retention), env.cfg.Warehouse.Schema, env.cfg.Warehouse.Table)
	return nil
}

func humanizeRetention(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%d days", d/(24*time.Hour))
	}
	return d.String()
}
