package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vvka-141/detloader/internal/staging"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/internal/warehouse"
	"github.com/vvka-141/detloader/pkg/detloader"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cumulative load statistics",
	Long: `Stats prints the cumulative counters from the state file, the pending
work per track and a summary of the staging directory. It reads the state
without modifying it.

With --warehouse it also connects to the warehouse and reports the stored row
counts, the split per source type and the most frequent object classes.

Examples:
  detloader stats
  detloader stats --warehouse`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

type statsFlagValues struct {
	warehouse bool
}

var statsFlags statsFlagValues

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsFlags.warehouse, "warehouse", false,
		"Also query the warehouse table")
}

func runStats(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	st, err := env.store().Load()
	if err != nil {
		return err
	}

	summary, err := staging.Summarize(env.stagingProvider(), env.cfg.StagingDir)
	if err != nil {
		env.logger.Warn("Cannot read staging directory %s: %v", env.cfg.StagingDir, err)
	}

	var tableStats *warehouse.TableStats
	if statsFlags.warehouse {
		ctx, stop := signalContext(cmd)
		defer stop()

		pool, release, err := env.connect(ctx)
		if err != nil {
			return err
		}
		defer release()

		ts, err := env.sink(pool).TableStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to query warehouse: %w", err)
		}
		tableStats = &ts
	}

	renderStats(cmd.OutOrStdout(), st, summary, tableStats, time.Now())
	return nil
}

// renderStats writes the state, staging and optional warehouse tables to w.
func renderStats(w io.Writer, st state.RunState, summary staging.Summary, wh *warehouse.TableStats, now time.Time) {
	s := st.Stats

	runs := newTable(w, "Runs")
	runs.AppendRows([]table.Row{
		{"Runs", humanize.Comma(s.Runs)},
		{"Last run", relTime(s.LastRunAt, now)},
		{"Files discovered", humanize.Comma(s.DiscoveredFiles)},
		{"Files processed", humanize.Comma(int64(len(st.ProcessedFiles)))},
		{"Files quarantined", fmt.Sprintf("%s (%d pending retry)", humanize.Comma(s.QuarantinedFiles), len(st.QuarantinedFiles))},
		{"Rows parsed", humanize.Comma(s.ParsedRows)},
		{"Rows normalized", humanize.Comma(s.NormalizedRows)},
		{"Rows rejected", humanize.Comma(s.RejectedRows)},
		{"Duplicates dropped", humanize.Comma(s.DuplicateRows)},
		{"Rows loaded", humanize.Comma(s.LoadedRows)},
		{"Already present", humanize.Comma(s.AlreadyPresent)},
		{"Sink-rejected rows", humanize.Comma(s.SinkRejectedRows)},
		{"Quarantined rows kept", humanize.Comma(int64(len(st.QuarantinedRows)))},
		{"Ledger fingerprints", humanize.Comma(int64(st.Ledger.Len()))},
	})
	runs.Render()

	tracks := newTable(w, "Tracks")
	tracks.AppendHeader(table.Row{"Track", "Batches", "Pending", "Last flush"})
	for _, t := range detloader.SourceTypes {
		ts := st.Tracks[t]
		tracks.AppendRow(table.Row{
			string(t),
			humanize.Comma(s.BatchesByType[t]),
			humanize.Comma(int64(ts.PendingCount)),
			relTime(ts.LastFlushAt, now),
		})
	}
	tracks.AppendFooter(table.Row{"Total", humanize.Comma(s.TotalBatches), "", fmt.Sprintf("%d failed", s.FailedBatches)})
	tracks.Render()

	stagingTbl := newTable(w, "Staging "+summary.Dir)
	stagingTbl.AppendHeader(table.Row{"Kind", "Files", "Size"})
	for _, row := range []struct {
		kind string
		ts   staging.TypeSummary
	}{
		{"video", summary.Video},
		{"image", summary.Image},
		{"unprefixed", summary.Unknown},
	} {
		stagingTbl.AppendRow(table.Row{row.kind, humanize.Comma(int64(row.ts.Files)), humanize.Bytes(uint64(row.ts.Bytes))})
	}
	stagingTbl.AppendFooter(table.Row{"Total", humanize.Comma(int64(summary.TotalFiles())), humanize.Bytes(uint64(summary.TotalBytes()))})
	stagingTbl.Render()

	if wh == nil {
		return
	}
	whTbl := newTable(w, "Warehouse "+wh.Table)
	whTbl.AppendRows([]table.Row{
		{"Rows", humanize.Comma(wh.TotalRows)},
		{"Image rows", humanize.Comma(wh.ByType[string(detloader.SourceImage)])},
		{"Video rows", humanize.Comma(wh.ByType[string(detloader.SourceVideo)])},
		{"Rejected rows", humanize.Comma(wh.Rejected)},
		{"Last loaded", relTime(wh.LastLoadedAt, now)},
	})
	whTbl.Render()

	if len(wh.TopClasses) > 0 {
		classes := newTable(w, "Top classes")
		classes.AppendHeader(table.Row{"Class", "Detections"})
		for _, c := range wh.TopClasses {
			classes.AppendRow(table.Row{c.Class, humanize.Comma(c.Count)})
		}
		classes.Render()
	}
}

func newTable(w io.Writer, title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)
	return tbl
}

func relTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
