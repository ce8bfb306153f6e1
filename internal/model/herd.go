package model

import (
	"strings"
)

// SemenClass is one of the two disjoint inventory classes a cow draws from.
type SemenClass string

const (
	ClassSexed        SemenClass = "sexed"
	ClassConventional SemenClass = "conventional"
)

// Classes returns the fixed order in which inventory classes are processed.
func Classes() []SemenClass {
	return []SemenClass{ClassSexed, ClassConventional}
}

// ParseSemenClass maps a free-form class label onto a SemenClass.
// Accepts the canonical names plus the common shorthand used in herd exports.
func ParseSemenClass(s string) (SemenClass, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sexed", "sex", "sexed semen", "s", "性判別", "性選別":
		return ClassSexed, true
	case "conventional", "conv", "c", "standard", "normal", "通常", "一般":
		return ClassConventional, true
	}
	return "", false
}

// Bull is a semen provider. Count is the inventory loaded for the run; the
// engine tracks depletion in its own ledger and never mutates Count.
type Bull struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Class SemenClass `json:"class"`
	Count int        `json:"count"`
	Score float64    `json:"score"`
}

// Cow is a demand unit awaiting up to three ranked assignments per class.
type Cow struct {
	ID    string   `json:"id"`
	Group string   `json:"group"`
	Score *float64 `json:"score,omitempty"` // nil when no usable own score
}

// HasScore reports whether the cow carries a usable own score.
func (c Cow) HasScore() bool {
	return c.Score != nil
}

// DefectStatus summarizes the genetic-defect flags of a mating pair.
type DefectStatus string

const (
	DefectNone    DefectStatus = "none"
	DefectCarrier DefectStatus = "carrier"
	DefectHigh    DefectStatus = "high"
)

// IsHighRisk reports whether the status excludes the pair when defect control is on.
func (d DefectStatus) IsHighRisk() bool {
	return d == DefectHigh
}

// Eligibility is the precomputed pairwise data for one (cow, bull) pair.
// Risk is a fraction in [0,1].
type Eligibility struct {
	Risk   float64      `json:"risk"`
	Defect DefectStatus `json:"defect"`
	Genes  []string     `json:"genes,omitempty"` // defect flags that signalled high risk
}

// DefaultEligibility is used for pairs absent from the eligibility table.
func DefaultEligibility() Eligibility {
	return Eligibility{Risk: 0, Defect: DefectNone}
}
