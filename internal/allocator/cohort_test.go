package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

func TestParseCohortLabel(t *testing.T) {
	tests := []struct {
		label string
		want  CohortKey
	}{
		{"cycle 1", CohortKey{Cycle: 1, IsCycle: true}},
		{"Cycle 12", CohortKey{Cycle: 12, IsCycle: true}},
		{"CYCLE-3", CohortKey{Cycle: 3, IsCycle: true}},
		{"cycle#4 sexed only", CohortKey{Cycle: 4, IsCycle: true}},
		{"Ｃｙｃｌｅ ２", CohortKey{Cycle: 2, IsCycle: true}},
		{"サイクル5", CohortKey{Cycle: 5, IsCycle: true}},
		{"第３周期", CohortKey{Cycle: 3, IsCycle: true}},
		{"heifers", CohortKey{}},
		{"", CohortKey{}},
		{"cycle", CohortKey{}},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCohortLabel(tt.label))
		})
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "cycle 1", NormalizeLabel("  Ｃｙｃｌｅ １ "))
	assert.Equal(t, NormalizeLabel("Sexed Only"), NormalizeLabel("sexed only"))
}

func rowsFor(groups ...string) []matrix.Row {
	rows := make([]matrix.Row, len(groups))
	for i, g := range groups {
		s := float64(i)
		rows[i] = matrix.Row{Cow: model.Cow{ID: string(rune('a' + i)), Group: g, Score: &s}}
	}
	return rows
}

func TestOrderCohorts(t *testing.T) {
	rows := rowsFor("heifers", "cycle 10", "cycle 2", "late", "cycle 2", "heifers", "cycle 1")
	cohorts := OrderCohorts(rows)

	labels := make([]string, len(cohorts))
	for i, c := range cohorts {
		labels[i] = c.Label
	}
	assert.Equal(t, []string{"cycle 1", "cycle 2", "cycle 10", "heifers", "late"}, labels)

	require.Len(t, cohorts[1].Rows, 2)
	assert.Equal(t, "c", cohorts[1].Rows[0].Cow.ID)
	assert.Equal(t, "e", cohorts[1].Rows[1].Cow.ID)
	assert.Len(t, cohorts[3].Rows, 2)
}

func TestOrderCohorts_GroupsByNormalizedLabel(t *testing.T) {
	rows := rowsFor("Cycle 1", "cycle 1", "ＣＹＣＬＥ １", "heifers", " Heifers ")
	cohorts := OrderCohorts(rows)

	require.Len(t, cohorts, 2)
	assert.Equal(t, "Cycle 1", cohorts[0].Label)
	assert.Equal(t, CohortKey{Cycle: 1, IsCycle: true}, cohorts[0].Key)
	assert.Len(t, cohorts[0].Rows, 3)
	assert.Equal(t, "heifers", cohorts[1].Label)
	assert.Len(t, cohorts[1].Rows, 2)
}

func TestCohortPriority(t *testing.T) {
	hi, lo := 90.0, 10.0
	c := &Cohort{Rows: []*matrix.Row{
		{Cow: model.Cow{ID: "low", Score: &lo}},
		{Cow: model.Cow{ID: "tie1", Score: &hi}},
		{Cow: model.Cow{ID: "none"}},
		{Cow: model.Cow{ID: "tie2", Score: &hi}},
	}}

	var ids []string
	for _, r := range c.Priority() {
		ids = append(ids, r.Cow.ID)
	}
	assert.Equal(t, []string{"tie1", "tie2", "low", "none"}, ids)
	assert.Equal(t, "low", c.Rows[0].Cow.ID, "input order untouched")
}

func TestApplicableClasses(t *testing.T) {
	ex := DefaultExclusions()
	assert.Equal(t, []model.SemenClass{model.ClassSexed, model.ClassConventional}, ApplicableClasses("cycle 1", ex))
	assert.Equal(t, []model.SemenClass{model.ClassConventional}, ApplicableClasses("cycle 2 (conventional only)", ex))
	assert.Equal(t, []model.SemenClass{model.ClassConventional}, ApplicableClasses("Cycle 3 No Sexed", ex))
	assert.Equal(t, []model.SemenClass{model.ClassSexed}, ApplicableClasses("cycle 4 SEXED ONLY", ex))
	assert.Equal(t, []model.SemenClass{model.ClassSexed}, ApplicableClasses("第1周期 性判別のみ", ex))
	assert.Equal(t, model.Classes(), ApplicableClasses("cycle 1", nil))
}
