package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vvka-141/detloader/internal/extract"
	"github.com/vvka-141/detloader/pkg/detloader"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load every pending staged file once, then exit",
	Long: `Run performs a single pass over the staging directory:

1. Discovers staged CSV files not yet recorded as processed
2. Parses and validates every row, dropping duplicates
3. Batches rows per source type and writes each batch to the warehouse
4. Flushes the remaining partial batches at the end of input
5. Records processed files and the run statistics in the state file

A run that finds nothing to do exits 0 and leaves the state file untouched.

Examples:
  # Load everything that is pending
  detloader run

  # Only video detections
  detloader run --source-type video

  # Explicit warehouse
  detloader run --connection "postgresql://loader@warehouse:5432/analytics"`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

type runFlagValues struct {
	sourceType string
}

var runFlags runFlagValues

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runFlags.sourceType, "source-type", "all",
		"Limit the run to one track: all|image|video\n"+
			"Files without a type prefix are only read by an unfiltered run.")
}

func runRun(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(runFlags.sourceType)
	if err != nil {
		return err
	}

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

	_, err = env.pipeline(env.sink(pool), nil).RunOnce(ctx, filter)
	return err
}

// parseFilter maps the --source-type value to a discovery filter.
func parseFilter(value string) (extract.Filter, error) {
	if v := strings.ToLower(strings.TrimSpace(value)); v == "" || v == "all" {
		return extract.Filter{}, nil
	}
	t, err := detloader.ParseSourceType(value)
	if err != nil {
		return extract.Filter{}, fmt.Errorf("invalid argument for --source-type: %w (expected all, image or video)", err)
	}
	return extract.Filter{SourceType: t}, nil
}
