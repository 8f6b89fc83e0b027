package cli

import (
	"github.com/spf13/cobra"

	"github.com/vvka-141/detloader/internal/loader"
)

var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create the warehouse tables if they do not exist",
	Long: `Init-schema creates the detections table, the rejects table and their
indexes in the configured warehouse schema. It is safe to run repeatedly.

Examples:
  detloader init-schema
  detloader init-schema -h warehouse -U loader -d analytics`,
	Args: cobra.NoArgs,
	RunE: runInitSchema,
}

func init() {
	rootCmd.AddCommand(initSchemaCmd)
}

func runInitSchema(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
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
	if err := ld.Init(ctx); err != nil {
		return err
	}
	env.logger.Info("Warehouse schema ready: %s.%s", env.cfg.Warehouse.Schema, env.cfg.Warehouse.Table)
	return nil
}
