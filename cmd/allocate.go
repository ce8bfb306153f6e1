package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/allocator"
	"github.com/herdline/breeding-cli/internal/export"
	"github.com/herdline/breeding-cli/internal/jobs"
	"github.com/herdline/breeding-cli/internal/loader"
	"github.com/herdline/breeding-cli/internal/model"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate semen inventory to cows",
	Long: "Loads the herd tables, builds the candidate matrix and assigns up to three ranked bulls per cow and class. " +
		"Writes the assignment table, usage summary, shortfalls and a YAML run summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("command", "allocate"))

		if err := cfg.Validate("allocate"); err != nil {
			return err
		}
		paths, format, outDir, err := inputFlags(cmd)
		if err != nil {
			return err
		}
		cohorts, _ := cmd.Flags().GetStringSlice("cohort")
		save, _ := cmd.Flags().GetBool("save")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ds, err := loader.LoadAll(ctx, paths, cfg.LoaderOptions())
		if err != nil {
			return eris.Wrap(err, "load input")
		}

		opts := jobs.Options{}
		if save {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			opts.Store = st
		}
		mgr := jobs.NewManager(opts)

		policy := cfg.MatrixPolicy()
		engineCfg := cfg.AllocatorConfig()
		params := model.RunParams{
			Source:             "cli",
			BullsFile:          paths.Bulls,
			CowsFile:           paths.Cows,
			EligibilityFile:    paths.Eligibility,
			Cohorts:            cohorts,
			RiskCutoff:         policy.RiskCutoff,
			RiskThreshold:      engineCfg.Constraint.RiskThreshold,
			ControlDefectGenes: engineCfg.Constraint.ControlDefectGenes,
			EnsureMinimumQuota: engineCfg.EnsureMinimumQuota,
		}

		var progressOut io.Writer = os.Stderr
		if quiet {
			progressOut = io.Discard
		}
		run := printProgress(progressOut, jobs.EngineRun(engineCfg, jobs.BuildInput(ds, policy, cohorts)))

		job, err := mgr.Start(ctx, params, run)
		if err != nil {
			return err
		}
		job, err = mgr.Wait(ctx, job.ID)
		if err != nil {
			return err
		}
		switch job.Status {
		case model.RunStatusCancelled:
			return eris.New("allocation cancelled; no output written")
		case model.RunStatusFailed:
			return eris.Errorf("allocation failed: %s", job.Error)
		}

		res, _ := mgr.Result(job.ID)
		runID := ""
		if save {
			runID = job.ID
		}
		written, err := export.WriteRun(outDir, format, runID, res)
		if err != nil {
			return err
		}

		log.Info("allocation written",
			zap.String("run_id", runID),
			zap.Int("files", len(written)),
		)
		printSummary(os.Stdout, runID, &res.Summary)
		return nil
	},
}

// printProgress wraps run so every progress report is also written to w.
func printProgress(w io.Writer, run jobs.RunFunc) jobs.RunFunc {
	return func(ctx context.Context, progress allocator.ProgressFunc) (*allocator.Result, error) {
		return run(ctx, func(msg string, pct int) {
			progress(msg, pct)
			_, _ = fmt.Fprintf(w, "[%3d%%] %s\n", pct, msg)
		})
	}
}

func printSummary(out io.Writer, runID string, s *model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if runID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", runID)
	}
	_, _ = fmt.Fprintf(w, "Cows:\t%d (%d cohorts, %d skipped)\n", s.Cows, s.Cohorts, s.SkippedCows)
	_, _ = fmt.Fprintf(w, "Assignments:\t%d of %d slots (%.1f%%)\n", s.Assignments, s.Slots, s.FillRate()*100)
	for rank := 1; rank <= model.MaxRank; rank++ {
		_, _ = fmt.Fprintf(w, "  Rank %d:\t%d\n", rank, s.AssignmentsByRank[rank])
	}
	for _, class := range model.Classes() {
		_, _ = fmt.Fprintf(w, "Units used (%s):\t%d\n", class, s.UnitsUsed[string(class)])
	}
	_, _ = fmt.Fprintf(w, "Shortfalls:\t%d (%d unallocated)\n", s.Shortfalls, s.Unallocated)
	_, _ = fmt.Fprintf(w, "Warnings:\t%d\n", len(s.Warnings))
	_ = w.Flush()
}

func init() {
	addInputFlags(allocateCmd)
	allocateCmd.Flags().StringSlice("cohort", nil, "limit allocation to these group labels (repeatable)")
	allocateCmd.Flags().Bool("save", false, "persist the run and its assignments to the configured store")
	allocateCmd.Flags().Bool("quiet", false, "suppress progress output")
	rootCmd.AddCommand(allocateCmd)
}
