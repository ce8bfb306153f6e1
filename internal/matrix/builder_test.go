package matrix

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func score(v float64) *float64 { return &v }

func testBulls() []model.Bull {
	return []model.Bull{
		{ID: "S1", Class: model.ClassSexed, Count: 2, Score: 80},
		{ID: "S2", Class: model.ClassSexed, Count: 1, Score: 90},
		{ID: "C1", Class: model.ClassConventional, Count: 5, Score: 60},
		{ID: "C2", Class: model.ClassConventional, Count: 5, Score: 70},
		{ID: "C3", Class: model.ClassConventional, Count: 5, Score: 70},
		{ID: "C4", Class: model.ClassConventional, Count: 5, Score: 50},
	}
}

func TestBuild_QualityAndOrder(t *testing.T) {
	cows := []model.Cow{{ID: "K1", Group: "cycle 1", Score: score(100)}}
	m := NewBuilder(DefaultPolicy(), nil).Build(cows, testBulls())

	require.Len(t, m.Rows, 1)
	row := m.Rows[0]

	sexed := row.Candidates[model.ClassSexed]
	require.Len(t, sexed, 2)
	assert.Equal(t, "S2", sexed[0].BullID)
	assert.InDelta(t, 95.0, sexed[0].Quality, 1e-9)
	assert.Equal(t, "S1", sexed[1].BullID)
	assert.InDelta(t, 90.0, sexed[1].Quality, 1e-9)

	conv := row.Candidates[model.ClassConventional]
	ids := make([]string, len(conv))
	for i, c := range conv {
		ids[i] = c.BullID
		assert.Equal(t, model.ClassConventional, c.Class)
	}
	// C2 and C3 tie; input order is kept.
	assert.Equal(t, []string{"C2", "C3", "C1", "C4"}, ids)
	assert.Equal(t, 6, m.DefaultedPairs)
}

func TestBuild_FiltersRiskAndDefects(t *testing.T) {
	table := NewTable(3)
	table.Set("K1", "C2", model.Eligibility{Risk: 0.05, Defect: model.DefectNone})
	table.Set("K1", "C3", model.Eligibility{Risk: 0.01, Defect: model.DefectHigh, Genes: []string{"BLAD"}})
	table.Set("K1", "C1", model.Eligibility{Risk: 0.03125, Defect: model.DefectCarrier})

	cows := []model.Cow{{ID: "K1", Group: "g", Score: score(60)}}
	m := NewBuilder(DefaultPolicy(), table).Build(cows, testBulls())

	conv := m.Rows[0].Candidates[model.ClassConventional]
	require.Len(t, conv, 2)
	assert.Equal(t, "C1", conv[0].BullID)
	assert.InDelta(t, 0.03125, conv[0].Risk, 1e-12, "risk equal to the cutoff is kept")
	assert.Equal(t, model.DefectCarrier, conv[0].Defect)
	assert.Equal(t, "C4", conv[1].BullID)
	assert.Equal(t, 3, m.DefaultedPairs)
}

func TestBuild_DefectFilterDisabled(t *testing.T) {
	table := NewTable(1)
	table.Set("K1", "S2", model.Eligibility{Risk: 0, Defect: model.DefectHigh})

	cows := []model.Cow{{ID: "K1", Score: score(10)}}
	m := NewBuilder(Policy{RiskCutoff: DefaultRiskCutoff}, table).Build(cows, testBulls())
	assert.Len(t, m.Rows[0].Candidates[model.ClassSexed], 2)
}

func TestBuild_SkipsCowsWithoutScore(t *testing.T) {
	cows := []model.Cow{
		{ID: "K1", Score: score(50)},
		{ID: "K2"},
		{ID: "K3", Score: score(40)},
	}
	m := NewBuilder(DefaultPolicy(), nil).Build(cows, testBulls())

	require.Len(t, m.Rows, 2)
	assert.Equal(t, "K1", m.Rows[0].Cow.ID)
	assert.Equal(t, "K3", m.Rows[1].Cow.ID)
	assert.Equal(t, []string{"K2"}, m.Skipped)
	require.Len(t, m.Warnings, 1)
	assert.Equal(t, model.WarnMissingScore, m.Warnings[0].Kind)
}

func TestBuild_DuplicateCowOneRow(t *testing.T) {
	cows := []model.Cow{
		{ID: "c1", Group: "cycle 1", Score: score(90)},
		{ID: "c1", Group: "cycle 1", Score: score(80)},
		{ID: "c2", Group: "cycle 1", Score: score(70)},
	}
	m := NewBuilder(DefaultPolicy(), nil).Build(cows, testBulls())

	require.Len(t, m.Rows, 2)
	assert.Equal(t, "c1", m.Rows[0].Cow.ID)
	assert.InDelta(t, 90.0, *m.Rows[0].Cow.Score, 1e-9)
	assert.Equal(t, "c2", m.Rows[1].Cow.ID)

	require.Len(t, m.Warnings, 1)
	assert.Equal(t, model.WarnMalformedField, m.Warnings[0].Kind)
	assert.Equal(t, "c1", m.Warnings[0].Subject)
}

func TestBuild_EmptyClassStillEmitted(t *testing.T) {
	bulls := []model.Bull{{ID: "C1", Class: model.ClassConventional, Count: 1, Score: 1}}
	cows := []model.Cow{{ID: "K1", Score: score(1)}}
	m := NewBuilder(DefaultPolicy(), nil).Build(cows, bulls)

	require.Len(t, m.Rows, 1)
	sexed, ok := m.Rows[0].Candidates[model.ClassSexed]
	assert.True(t, ok, "sexed list must be present even when empty")
	assert.Empty(t, sexed)
	assert.Len(t, m.Rows[0].Candidates[model.ClassConventional], 1)
}

func TestRow_Recommended(t *testing.T) {
	cows := []model.Cow{{ID: "K1", Score: score(50)}}
	row := NewBuilder(DefaultPolicy(), nil).Build(cows, testBulls()).Rows[0]

	assert.Len(t, row.Recommended(model.ClassConventional), 3)
	assert.Len(t, row.Recommended(model.ClassSexed), 2)
}

func TestMatrix_JSONRoundTripKeepsTypes(t *testing.T) {
	cows := []model.Cow{{ID: "K1", Group: "cycle 2", Score: score(50)}}
	m := NewBuilder(DefaultPolicy(), nil).Build(cows, testBulls())

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Matrix
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.Rows[0].Candidates, back.Rows[0].Candidates)
}

func TestTable_Lookup(t *testing.T) {
	var nilTable *Table
	e, ok := nilTable.Lookup("a", "b")
	assert.False(t, ok)
	assert.Equal(t, model.DefaultEligibility(), e)

	var zero Table
	zero.Set("a", "b", model.Eligibility{Risk: 0.5, Defect: model.DefectHigh})
	e, ok = zero.Lookup("a", "b")
	assert.True(t, ok)
	assert.InDelta(t, 0.5, e.Risk, 1e-12)
	assert.Equal(t, 1, zero.Len())
}
