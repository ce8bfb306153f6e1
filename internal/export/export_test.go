package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func sampleResult() *model.RunResult {
	return &model.RunResult{
		Summary: model.RunSummary{
			Cows:              2,
			Slots:             12,
			Assignments:       3,
			AssignmentsByRank: map[int]int{1: 2, 2: 1},
			Warnings:          []model.Warning{{Kind: model.WarnMissingScore, Subject: "K9"}},
		},
		Assignments: []model.Assignment{
			{CowID: "K1", BullID: "B1", Rank: 1, Class: model.ClassSexed, Quality: 90, Defect: model.DefectNone, RemainingAfter: 1},
			{CowID: "K2", BullID: "B2", Rank: 1, Class: model.ClassSexed, Quality: 80, Risk: 0.01, Defect: model.DefectCarrier},
			{CowID: "K1", BullID: "B2", Rank: 2, Class: model.ClassSexed, Quality: 85.5, Defect: model.DefectNone},
		},
		Usage: []model.UsageRow{
			{BullID: "B1", Class: model.ClassSexed, Original: 2, Used: 1, Remaining: 1, Utilization: 50},
		},
		Shortfalls: []model.Shortfall{
			{CowID: "K2", Group: "cycle 1", Class: model.ClassSexed, Assigned: 1},
			{CowID: "K1", Group: "cycle 1", Class: model.ClassConventional},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestAssignmentSheet(t *testing.T) {
	s := AssignmentSheet(sampleResult().Assignments)
	assert.Equal(t, "assignments", s.Name)
	require.Len(t, s.Rows, 3)
	assert.Equal(t, []string{"K1", "sexed", "1", "B1", "90", "0", "none", "1"}, s.Rows[0])
	assert.Equal(t, "85.5", s.Rows[2][4])
}

func TestCandidateSheet(t *testing.T) {
	v := 80.0
	m := &matrix.Matrix{Rows: []matrix.Row{{
		Cow: model.Cow{ID: "K1", Group: "cycle 1", Score: &v},
		Candidates: map[model.SemenClass][]model.CandidateEntry{
			model.ClassSexed: {{BullID: "S1"}, {BullID: "S2"}, {BullID: "S3"}, {BullID: "S4"}},
		},
	}}}

	s := CandidateSheet(m)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, []string{"K1", "cycle 1", "80", "sexed", "S1", "S2", "S3", "4"}, s.Rows[0])
	assert.Equal(t, []string{"K1", "cycle 1", "80", "conventional", "", "", "", "0"}, s.Rows[1])
}

func TestUsageAndShortfallSheets(t *testing.T) {
	res := sampleResult()
	u := UsageSheet(res.Usage)
	assert.Equal(t, []string{"B1", "sexed", "2", "1", "1", "50.00"}, u.Rows[0])

	sf := ShortfallSheet(res.Shortfalls)
	assert.Equal(t, "false", sf.Rows[0][4])
	assert.Equal(t, "true", sf.Rows[1][4])
}

func TestQualityByRank(t *testing.T) {
	stats := QualityByRank(sampleResult().Assignments)
	require.Len(t, stats, 3)

	assert.Equal(t, 2, stats[0].Count)
	assert.InDelta(t, 85.0, stats[0].Mean, 1e-9)
	assert.InDelta(t, 7.0710678, stats[0].StdDev, 1e-6)

	assert.Equal(t, 1, stats[1].Count)
	assert.InDelta(t, 85.5, stats[1].Mean, 1e-9)
	assert.Zero(t, stats[1].StdDev)

	assert.Equal(t, RankStats{Rank: 3}, stats[2])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, WarningSheet([]model.Warning{{Kind: model.WarnUnknownBull, Subject: "K1", Detail: "bull, X"}})))
	assert.Equal(t, "kind,subject,detail\nunknown_bull,K1,\"bull, X\"\n", buf.String())
}

func TestWriteRun_CSV(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteRun(dir, FormatCSV, "run-1", sampleResult())
	require.NoError(t, err)

	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"assignments.csv", "usage.csv", "shortfalls.csv", "warnings.csv", "summary.yaml"}, names)

	data, err := os.ReadFile(filepath.Join(dir, "assignments.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)

	raw, err := os.ReadFile(filepath.Join(dir, "summary.yaml"))
	require.NoError(t, err)
	var report Report
	require.NoError(t, yaml.Unmarshal(raw, &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 3, report.Summary.Assignments)
	assert.InDelta(t, 0.25, report.FillRate, 1e-9)
	assert.Len(t, report.Quality, 3)
	assert.Contains(t, string(raw), "utilization_pct: 50")
}

func TestWriteRun_XLSX(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteRun(dir, FormatXLSX, "", sampleResult())
	require.NoError(t, err)
	require.Len(t, paths, 2)

	f, err := xlsx.OpenFile(paths[0])
	require.NoError(t, err)
	require.Len(t, f.Sheets, 4)
	assert.Equal(t, "assignments", f.Sheets[0].Name)
	assert.Len(t, f.Sheets[0].Rows, 4)
	assert.Equal(t, "bull_id", f.Sheets[1].Rows[0].Cells[0].String())
}

func TestWriteRun_JSON(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteRun(dir, FormatJSON, "", sampleResult())
	require.NoError(t, err)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var got struct {
		Assignments []model.Assignment `json:"assignments"`
		Shortfalls  []model.Shortfall  `json:"shortfalls"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sampleResult().Assignments, got.Assignments)
	assert.Len(t, got.Shortfalls, 2)
}

func TestWriteCandidates(t *testing.T) {
	dir := t.TempDir()
	m := &matrix.Matrix{
		Rows:     []matrix.Row{{Cow: model.Cow{ID: "K1"}}},
		Warnings: []model.Warning{{Kind: model.WarnMissingScore, Subject: "K2"}},
	}

	paths, err := WriteCandidates(dir, FormatCSV, m)
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	paths, err = WriteCandidates(dir, FormatJSON, m)
	require.NoError(t, err)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var back matrix.Matrix
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "K1", back.Rows[0].Cow.ID)
}
