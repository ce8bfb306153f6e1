package model

import (
	"time"
)

// RunStatus represents the current state of an allocation run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusComplete, RunStatusCancelled, RunStatusFailed:
		return true
	}
	return false
}

// RunParams captures the inputs and options a run was started with.
type RunParams struct {
	Source             string   `json:"source,omitempty"` // "cli", "api"
	BullsFile          string   `json:"bulls_file,omitempty"`
	CowsFile           string   `json:"cows_file,omitempty"`
	EligibilityFile    string   `json:"eligibility_file,omitempty"`
	Cohorts            []string `json:"cohorts,omitempty"`
	RiskCutoff         float64  `json:"risk_cutoff"`
	RiskThreshold      float64  `json:"risk_threshold"`
	ControlDefectGenes bool     `json:"control_defect_genes"`
	EnsureMinimumQuota bool     `json:"ensure_minimum_quota"`
}

// Run is a persisted allocation run.
type Run struct {
	ID        string      `json:"id"`
	Params    RunParams   `json:"params"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary holds aggregate counts for a finished run.
type RunSummary struct {
	Cows              int            `json:"cows" yaml:"cows"`
	Cohorts           int            `json:"cohorts" yaml:"cohorts"`
	Slots             int            `json:"slots" yaml:"slots"` // cows x applicable classes x MaxRank
	Assignments       int            `json:"assignments" yaml:"assignments"`
	AssignmentsByRank map[int]int    `json:"assignments_by_rank" yaml:"assignments_by_rank"`
	SkippedCows       int            `json:"skipped_cows" yaml:"skipped_cows"`
	DefaultedPairs    int            `json:"defaulted_pairs" yaml:"defaulted_pairs"`
	MalformedFields   int            `json:"malformed_fields" yaml:"malformed_fields"`
	Shortfalls        int            `json:"shortfalls" yaml:"shortfalls"`
	Unallocated       int            `json:"unallocated" yaml:"unallocated"`
	Warnings          []Warning      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	UnitsUsed         map[string]int `json:"units_used" yaml:"units_used"` // by class
	DurationMs        int64          `json:"duration_ms" yaml:"duration_ms"`
}

// FillRate is the fraction of requested choice slots that received a bull.
func (s *RunSummary) FillRate() float64 {
	if s.Slots == 0 {
		return 0
	}
	return float64(s.Assignments) / float64(s.Slots)
}

// RunResult is the persisted outcome of a completed run.
type RunResult struct {
	Summary     RunSummary   `json:"summary"`
	Assignments []Assignment `json:"assignments"`
	Usage       []UsageRow   `json:"usage"`
	Shortfalls  []Shortfall  `json:"shortfalls"`
}
