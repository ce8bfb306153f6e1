package model

// MaxRank is the number of ranked choices a cow can receive per class.
const MaxRank = 3

// CandidateEntry is one eligible bull for a cow within a class.
type CandidateEntry struct {
	BullID  string       `json:"bull_id"`
	Class   SemenClass   `json:"class"`
	Quality float64      `json:"quality"`
	Risk    float64      `json:"risk"`
	Defect  DefectStatus `json:"defect"`
}

// PairQuality is the arithmetic mean of the cow and bull scores.
func PairQuality(cowScore, bullScore float64) float64 {
	return 0.5 * (cowScore + bullScore)
}

// Assignment records one ranked bull choice for a cow. Immutable once recorded.
type Assignment struct {
	CowID          string       `json:"cow_id"`
	BullID         string       `json:"bull_id"`
	Rank           int          `json:"rank"`
	Class          SemenClass   `json:"class"`
	Quality        float64      `json:"quality"`
	Risk           float64      `json:"risk"`
	Defect         DefectStatus `json:"defect"`
	RemainingAfter int          `json:"remaining_after"`
}

// Shortfall marks a cow that ended a class with fewer than MaxRank assignments.
type Shortfall struct {
	CowID    string     `json:"cow_id"`
	Group    string     `json:"group"`
	Class    SemenClass `json:"class"`
	Assigned int        `json:"assigned"`
}

// Unallocated reports whether the cow received no assignment at all in the class.
func (s Shortfall) Unallocated() bool {
	return s.Assigned == 0
}

// UsageRow summarizes inventory consumption for one bull.
type UsageRow struct {
	BullID      string     `json:"bull_id" yaml:"bull_id"`
	Class       SemenClass `json:"class" yaml:"class"`
	Original    int        `json:"original" yaml:"original"`
	Used        int        `json:"used" yaml:"used"`
	Remaining   int        `json:"remaining" yaml:"remaining"`
	Utilization float64    `json:"utilization_pct" yaml:"utilization_pct"`
}

// WarningKind categorizes a non-fatal data-quality or processing issue.
type WarningKind string

const (
	WarnMissingScore       WarningKind = "missing_score"
	WarnMissingEligibility WarningKind = "missing_eligibility"
	WarnMalformedField     WarningKind = "malformed_field"
	WarnUnknownBull        WarningKind = "unknown_bull"
	WarnCohortClassFailed  WarningKind = "cohort_class_failed"
)

// Warning is a non-fatal issue surfaced in the run summary.
type Warning struct {
	Kind    WarningKind `json:"kind" yaml:"kind"`
	Subject string      `json:"subject" yaml:"subject"`
	Detail  string      `json:"detail,omitempty" yaml:"detail,omitempty"`
}
