// Package store persists allocation runs and their assignments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/herdline/breeding-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// AssignmentFilter narrows ListAssignments.
type AssignmentFilter struct {
	CowID string           `json:"cow_id,omitempty"`
	Class model.SemenClass `json:"class,omitempty"`
}

// Store defines the persistence interface for allocation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	SaveResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Assignments and result detail
	ListAssignments(ctx context.Context, runID string, filter AssignmentFilter) ([]model.Assignment, error)
	GetResult(ctx context.Context, runID string) (*model.RunResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// resultDetail is the part of a RunResult kept as a JSON document next to the
// run row; assignments live in their own table.
type resultDetail struct {
	Usage      []model.UsageRow  `json:"usage"`
	Shortfalls []model.Shortfall `json:"shortfalls"`
}

var assignmentColumns = []string{
	"run_id", "seq", "cow_id", "bull_id", "rank", "class", "quality", "risk", "defect", "remaining_after",
}

func assignmentRows(runID string, as []model.Assignment) [][]any {
	rows := make([][]any, len(as))
	for i, a := range as {
		rows[i] = []any{
			runID, i, a.CowID, a.BullID, a.Rank, string(a.Class), a.Quality, a.Risk, string(a.Defect), a.RemainingAfter,
		}
	}
	return rows
}

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
