package matrix

import (
	"github.com/herdline/breeding-cli/internal/model"
)

// PairKey identifies a (cow, bull) pair in the eligibility table.
type PairKey struct {
	CowID  string
	BullID string
}

// Table is the externally supplied eligibility table. The zero value is an
// empty table in which every pair defaults to zero risk and no defect.
type Table struct {
	pairs map[PairKey]model.Eligibility
}

// NewTable creates an empty eligibility table sized for n pairs.
func NewTable(n int) *Table {
	return &Table{pairs: make(map[PairKey]model.Eligibility, n)}
}

// Set stores the eligibility record for a pair, replacing any earlier record.
func (t *Table) Set(cowID, bullID string, e model.Eligibility) {
	if t.pairs == nil {
		t.pairs = make(map[PairKey]model.Eligibility)
	}
	t.pairs[PairKey{CowID: cowID, BullID: bullID}] = e
}

// Lookup returns the record for a pair and whether it was present.
// Absent pairs yield model.DefaultEligibility().
func (t *Table) Lookup(cowID, bullID string) (model.Eligibility, bool) {
	if t == nil || t.pairs == nil {
		return model.DefaultEligibility(), false
	}
	e, ok := t.pairs[PairKey{CowID: cowID, BullID: bullID}]
	if !ok {
		return model.DefaultEligibility(), false
	}
	return e, true
}

// Len returns the number of pairs in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.pairs)
}
