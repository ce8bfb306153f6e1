// Package allocator runs the cycle-based allocation of semen inventory to
// cohorts of cows: proportional first-choice quotas followed by a greedy
// progressive fill of the remaining choice ranks.
package allocator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

// Precondition and outcome errors. Match with errors.Is.
var (
	ErrNoCohorts        = eris.New("allocator: no cows in the selected cohorts")
	ErrNoInventory      = eris.New("allocator: no bull has inventory in any class")
	ErrCancelled        = eris.New("allocator: run cancelled")
	ErrNothingProcessed = eris.New("allocator: no cohort could be processed")
)

// ProgressFunc receives progress at cohort and class boundaries. It is called
// synchronously from the engine's loop.
type ProgressFunc func(message string, percent int)

// Config holds the engine options.
type Config struct {
	Constraint         Constraint                    `json:"constraint"`
	EnsureMinimumQuota bool                          `json:"ensure_minimum_quota"`
	Exclusions         map[model.SemenClass][]string `json:"exclusions,omitempty"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Constraint:         Constraint{RiskThreshold: DefaultRiskThreshold, ControlDefectGenes: true},
		EnsureMinimumQuota: true,
		Exclusions:         DefaultExclusions(),
	}
}

// Input is everything one run consumes.
type Input struct {
	Matrix   *matrix.Matrix
	Bulls    []model.Bull
	Cohorts  []string        // optional group-label selection; empty selects all
	Warnings []model.Warning // upstream data-quality warnings carried into the summary
}

// Result is the outcome of a completed run.
type Result struct {
	Assignments []model.Assignment `json:"assignments"`
	Usage       []model.UsageRow   `json:"usage"`
	Shortfalls  []model.Shortfall  `json:"shortfalls"`
	Remaining   map[string]int     `json:"remaining"`
	Summary     model.RunSummary   `json:"summary"`
}

// RunResult converts the engine result into its persisted form.
func (r *Result) RunResult() *model.RunResult {
	return &model.RunResult{
		Summary:     r.Summary,
		Assignments: r.Assignments,
		Usage:       r.Usage,
		Shortfalls:  r.Shortfalls,
	}
}

// Engine allocates inventory. It holds configuration only; all mutable state
// lives in the AllocationRun created per call to Run.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Run allocates the bulls in in.Bulls to the cows in in.Matrix. ctx is checked
// at cohort boundaries only; a cancelled run returns ErrCancelled and no
// partial result.
func (e *Engine) Run(ctx context.Context, in Input, progress ProgressFunc) (*Result, error) {
	start := time.Now()
	if progress == nil {
		progress = func(string, int) {}
	}
	log := zap.L().With(zap.String("component", "allocator"))

	if in.Matrix == nil {
		return nil, eris.Wrap(ErrNoCohorts, "allocator: missing candidate matrix")
	}
	rows := selectRows(in.Matrix.Rows, in.Cohorts)
	if len(rows) == 0 {
		return nil, eris.Wrapf(ErrNoCohorts, "allocator: selection %v", in.Cohorts)
	}

	ledger := NewLedger(in.Bulls)
	var stock int
	for _, class := range model.Classes() {
		stock += ledger.Total(class)
	}
	if stock == 0 {
		return nil, eris.Wrap(ErrNoInventory, "allocator: precondition")
	}

	cohorts := OrderCohorts(rows)
	run := newAllocationRun(e.cfg, ledger)

	steps := 0
	for _, c := range cohorts {
		steps += len(ApplicableClasses(c.Label, e.cfg.Exclusions))
	}

	log.Info("allocation started",
		zap.Int("cows", len(rows)),
		zap.Int("cohorts", len(cohorts)),
		zap.Int("bulls", len(in.Bulls)),
	)

	var done, processed, failed, slots int
	for i, c := range cohorts {
		if err := ctx.Err(); err != nil {
			log.Info("allocation cancelled", zap.String("cohort", c.Label), zap.Error(err))
			return nil, eris.Wrapf(ErrCancelled, "allocator: stopped before cohort %q: %v", c.Label, err)
		}
		progress(fmt.Sprintf("cohort %s (%d/%d)", displayLabel(c.Label), i+1, len(cohorts)), percent(done, steps))

		classes := ApplicableClasses(c.Label, e.cfg.Exclusions)
		slots += len(c.Rows) * len(classes) * model.MaxRank
		for _, class := range classes {
			if err := run.allocate(c, class); err != nil {
				failed++
				run.warn(model.WarnCohortClassFailed, c.Label+"/"+string(class), err.Error())
				log.Warn("cohort class aborted",
					zap.String("cohort", c.Label),
					zap.String("class", string(class)),
					zap.Error(err),
				)
			} else {
				processed++
			}
			done++
			progress(fmt.Sprintf("cohort %s: %s done", displayLabel(c.Label), class), percent(done, steps))
		}
	}

	if processed == 0 && failed > 0 {
		return nil, eris.Wrapf(ErrNothingProcessed, "allocator: %d cohort/class steps failed", failed)
	}
	progress("allocation complete", 100)

	res := &Result{
		Assignments: run.assignments,
		Usage:       ledger.Usage(),
		Shortfalls:  run.shortfalls,
		Remaining:   ledger.Snapshot(),
	}
	res.Summary = summarize(in, run, len(rows), len(cohorts), slots)
	res.Summary.DurationMs = time.Since(start).Milliseconds()

	log.Info("allocation complete",
		zap.Int("assignments", len(res.Assignments)),
		zap.Int("shortfalls", res.Summary.Shortfalls),
		zap.Int("unallocated", res.Summary.Unallocated),
		zap.Int("warnings", len(res.Summary.Warnings)),
		zap.Int64("duration_ms", res.Summary.DurationMs),
	)
	return res, nil
}

func summarize(in Input, run *AllocationRun, cows, cohorts, slots int) model.RunSummary {
	s := model.RunSummary{
		Cows:              cows,
		Cohorts:           cohorts,
		Slots:             slots,
		Assignments:       len(run.assignments),
		AssignmentsByRank: make(map[int]int, model.MaxRank),
		SkippedCows:       len(in.Matrix.Skipped),
		DefaultedPairs:    in.Matrix.DefaultedPairs,
		Shortfalls:        len(run.shortfalls),
		UnitsUsed:         make(map[string]int, len(model.Classes())),
	}
	for _, a := range run.assignments {
		s.AssignmentsByRank[a.Rank]++
		s.UnitsUsed[string(a.Class)]++
	}
	for _, sf := range run.shortfalls {
		if sf.Unallocated() {
			s.Unallocated++
		}
	}

	s.Warnings = append(s.Warnings, in.Warnings...)
	s.Warnings = append(s.Warnings, in.Matrix.Warnings...)
	s.Warnings = append(s.Warnings, run.warnings...)
	for _, w := range s.Warnings {
		if w.Kind == model.WarnMalformedField {
			s.MalformedFields++
		}
	}
	return s
}

// selectRows keeps the rows whose group label is in the selection. An empty
// selection keeps every row.
func selectRows(rows []matrix.Row, selection []string) []matrix.Row {
	if len(selection) == 0 {
		return rows
	}
	want := make(map[string]bool, len(selection))
	for _, s := range selection {
		want[NormalizeLabel(s)] = true
	}
	var out []matrix.Row
	for _, r := range rows {
		if want[NormalizeLabel(r.Cow.Group)] {
			out = append(out, r)
		}
	}
	return out
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}

func displayLabel(label string) string {
	if strings.TrimSpace(label) == "" {
		return "(ungrouped)"
	}
	return label
}
