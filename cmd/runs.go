package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/herdline/breeding-cli/internal/export"
	"github.com/herdline/breeding-cli/internal/model"
	"github.com/herdline/breeding-cli/internal/monitoring"
	"github.com/herdline/breeding-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect allocation run history",
	Long:  "Commands for listing, viewing, exporting and summarizing persisted allocation runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("runs")
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allocation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs assignments --

var runsAssignmentsCmd = &cobra.Command{
	Use:   "assignments <run-id>",
	Short: "Print the assignment table of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cow, _ := cmd.Flags().GetString("cow")
		className, _ := cmd.Flags().GetString("class")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := store.AssignmentFilter{CowID: cow}
		if className != "" {
			class, ok := model.ParseSemenClass(className)
			if !ok {
				return eris.Errorf("unknown class %q", className)
			}
			filter.Class = class
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetRun(ctx, args[0]); err != nil {
			return eris.Wrap(err, "runs assignments")
		}
		as, err := st.ListAssignments(ctx, args[0], filter)
		if err != nil {
			return eris.Wrap(err, "runs assignments")
		}

		if asJSON {
			return export.WriteJSON(os.Stdout, as)
		}
		return export.WriteCSV(os.Stdout, export.AssignmentSheet(as))
	},
}

// -- runs export --

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Write the tables of a persisted run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		formatName, _ := cmd.Flags().GetString("format")
		outDir, _ := cmd.Flags().GetString("out")
		if formatName == "" {
			formatName = cfg.Output.Format
		}
		if outDir == "" {
			outDir = cfg.Output.Dir
		}
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs export")
		}
		if run.Status != model.RunStatusComplete {
			return eris.Errorf("runs export: run %s is %s", run.ID, run.Status)
		}
		res, err := st.GetResult(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs export")
		}

		written, err := export.WriteRun(outDir, format, run.ID, res)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintln(os.Stdout, p)
		}
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := 0
		if since > 0 {
			hours = max(int(since.Hours()), 1)
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, running, complete, cancelled, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsAssignmentsCmd.Flags().String("cow", "", "only assignments of this cow")
	runsAssignmentsCmd.Flags().String("class", "", "only assignments of this class (sexed, conventional)")
	runsAssignmentsCmd.Flags().Bool("json", false, "print JSON instead of CSV")

	runsExportCmd.Flags().String("format", "", "output format: csv, xlsx or json (default from config)")
	runsExportCmd.Flags().String("out", "", "output directory (default from config)")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 168h); 0 for all runs")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsAssignmentsCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tCOWS\tASSIGNED\tFILL\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t----\t--------\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		cows, assigned, fill := "-", "-", "-"
		if r.Summary != nil {
			cows = fmt.Sprintf("%d", r.Summary.Cows)
			assigned = fmt.Sprintf("%d", r.Summary.Assignments)
			fill = fmt.Sprintf("%.1f%%", r.Summary.FillRate()*100)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Params.Source,
			r.Status,
			cows,
			assigned,
			fill,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if s.LookbackHours > 0 {
		_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	} else {
		_, _ = fmt.Fprintln(w, "Window:\tall runs")
	}
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.RunsCancelled)
	_, _ = fmt.Fprintf(w, "Active:\t%d\n", s.RunsActive)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	if s.RunsComplete > 0 {
		_, _ = fmt.Fprintf(w, "Assignments:\t%d\n", s.Assignments)
		_, _ = fmt.Fprintf(w, "Shortfalls:\t%d (%d unallocated)\n", s.Shortfalls, s.Unallocated)
		_, _ = fmt.Fprintf(w, "Mean fill rate:\t%.1f%%\n", s.MeanFillRate*100)
		_, _ = fmt.Fprintf(w, "Mean duration:\t%dms\n", s.MeanDurationMs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
