// Package matrix builds the per-cow, per-class ranked candidate lists that the
// allocation engine consumes.
package matrix

import (
	"sort"

	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/model"
)

// DefaultRiskCutoff is the published-recommendation risk cutoff (3.125%).
const DefaultRiskCutoff = 0.03125

// Policy decides which pairs are published as valid candidates.
type Policy struct {
	RiskCutoff        float64 `json:"risk_cutoff"` // fraction; pairs above it are dropped
	ExcludeHighDefect bool    `json:"exclude_high_defect"`
}

// DefaultPolicy returns the standard recommendation filter.
func DefaultPolicy() Policy {
	return Policy{RiskCutoff: DefaultRiskCutoff, ExcludeHighDefect: true}
}

// Allows reports whether a pair passes the recommendation filter.
func (p Policy) Allows(e model.Eligibility) bool {
	if e.Risk > p.RiskCutoff {
		return false
	}
	if p.ExcludeHighDefect && e.Defect.IsHighRisk() {
		return false
	}
	return true
}

// Row holds the candidate lists of one cow, one list per class.
type Row struct {
	Cow        model.Cow                                   `json:"cow"`
	Candidates map[model.SemenClass][]model.CandidateEntry `json:"candidates"`
}

// Recommended returns the top three candidates of a class.
func (r Row) Recommended(class model.SemenClass) []model.CandidateEntry {
	list := r.Candidates[class]
	if len(list) > model.MaxRank {
		return list[:model.MaxRank]
	}
	return list
}

// Matrix is the full candidate matrix for one run.
type Matrix struct {
	Rows           []Row           `json:"rows"`
	Skipped        []string        `json:"skipped,omitempty"` // cows without a usable score
	DefaultedPairs int             `json:"defaulted_pairs"`
	Warnings       []model.Warning `json:"warnings,omitempty"`
}

// Builder joins cow scores, bull scores and eligibility into a Matrix.
type Builder struct {
	policy Policy
	table  *Table
}

// NewBuilder creates a Builder. A nil table treats every pair as eligible.
func NewBuilder(policy Policy, table *Table) *Builder {
	return &Builder{policy: policy, table: table}
}

// Build computes the candidate matrix. Cows keep their input order; bulls are
// considered in input order so that equal qualities stay in that order.
func (b *Builder) Build(cows []model.Cow, bulls []model.Bull) *Matrix {
	byClass := make(map[model.SemenClass][]model.Bull, len(model.Classes()))
	for _, bull := range bulls {
		byClass[bull.Class] = append(byClass[bull.Class], bull)
	}

	m := &Matrix{Rows: make([]Row, 0, len(cows))}
	var excluded int
	seen := make(map[string]bool, len(cows))
	for _, cow := range cows {
		// One row per cow ID; the engine tracks assignments by ID.
		if seen[cow.ID] {
			m.Warnings = append(m.Warnings, model.Warning{
				Kind:    model.WarnMalformedField,
				Subject: cow.ID,
				Detail:  "duplicate cow id; first occurrence kept",
			})
			zap.L().Warn("matrix: skipping duplicate cow", zap.String("cow_id", cow.ID))
			continue
		}
		seen[cow.ID] = true

		if !cow.HasScore() {
			m.Skipped = append(m.Skipped, cow.ID)
			m.Warnings = append(m.Warnings, model.Warning{
				Kind:    model.WarnMissingScore,
				Subject: cow.ID,
				Detail:  "cow has no usable score; not allocated",
			})
			zap.L().Warn("matrix: skipping cow without score", zap.String("cow_id", cow.ID))
			continue
		}

		row := Row{Cow: cow, Candidates: make(map[model.SemenClass][]model.CandidateEntry, len(model.Classes()))}
		for _, class := range model.Classes() {
			list := make([]model.CandidateEntry, 0, len(byClass[class]))
			for _, bull := range byClass[class] {
				elig, ok := b.table.Lookup(cow.ID, bull.ID)
				if !ok {
					m.DefaultedPairs++
				}
				if !b.policy.Allows(elig) {
					excluded++
					continue
				}
				list = append(list, model.CandidateEntry{
					BullID:  bull.ID,
					Class:   class,
					Quality: model.PairQuality(*cow.Score, bull.Score),
					Risk:    elig.Risk,
					Defect:  elig.Defect,
				})
			}
			SortByQuality(list)
			row.Candidates[class] = list
		}
		m.Rows = append(m.Rows, row)
	}

	zap.L().Info("matrix: candidate lists built",
		zap.Int("cows", len(m.Rows)),
		zap.Int("skipped", len(m.Skipped)),
		zap.Int("bulls", len(bulls)),
		zap.Int("excluded_pairs", excluded),
		zap.Int("defaulted_pairs", m.DefaultedPairs),
	)
	return m
}

// SortByQuality stably orders candidates by quality, highest first.
func SortByQuality(list []model.CandidateEntry) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Quality > list[j].Quality
	})
}
