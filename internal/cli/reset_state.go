package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/pkg/detloader"
)

var resetStateCmd = &cobra.Command{
	Use:   "reset-state",
	Short: "Discard the run state so every staged file is loaded again",
	Long: `Reset-state replaces the state file with an empty one.

A corrupt state file is always reset; the damaged file is kept next to it as
<state_file>.corrupt-<unix time>. A valid state that carries history is only
reset with --force, because the next run will re-read every staged file.
Rows already in the warehouse are absorbed by the upsert and not duplicated.

Examples:
  detloader reset-state
  detloader reset-state --force`,
	Args: cobra.NoArgs,
	RunE: runResetState,
}

type resetStateFlagValues struct {
	force bool
}

var resetStateFlags resetStateFlagValues

func init() {
	rootCmd.AddCommand(resetStateCmd)
	resetStateCmd.Flags().BoolVar(&resetStateFlags.force, "force", false,
		"Reset a valid, non-empty state file")
}

func runResetState(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	return resetState(env.store(), resetStateFlags.force, env.logger, cmd.OutOrStdout())
}

// resetState refuses to wipe healthy history unless forced.
func resetState(store *state.Store, force bool, logger detloader.Logger, out io.Writer) error {
	h := store.Inspect()
	switch {
	case h.Corrupt != nil:
		logger.Warn("State file %s is corrupt: %v", store.Path(), h.Corrupt)
	case !h.Empty && !force:
		return fmt.Errorf("state file %s has history; pass --force to discard it: %w", store.Path(), detloader.ErrResetRefused)
	}

	if err := store.Reset(); err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}
	fmt.Fprintf(out, "State reset: %s\n", store.Path())
	return nil
}
