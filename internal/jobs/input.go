package jobs

import (
	"context"

	"github.com/herdline/breeding-cli/internal/allocator"
	"github.com/herdline/breeding-cli/internal/loader"
	"github.com/herdline/breeding-cli/internal/matrix"
)

// BuildInput builds the candidate matrix of a loaded dataset and wraps it as
// engine input.
func BuildInput(ds *loader.Dataset, policy matrix.Policy, cohorts []string) allocator.Input {
	m := matrix.NewBuilder(policy, ds.Eligibility).Build(ds.Cows, ds.Bulls)
	return allocator.Input{
		Matrix:   m,
		Bulls:    ds.Bulls,
		Cohorts:  cohorts,
		Warnings: ds.Warnings,
	}
}

// EngineRun returns a RunFunc that allocates in with a fresh engine.
func EngineRun(cfg allocator.Config, in allocator.Input) RunFunc {
	return func(ctx context.Context, progress allocator.ProgressFunc) (*allocator.Result, error) {
		return allocator.NewEngine(cfg).Run(ctx, in, progress)
	}
}
