// Package export writes allocation results and candidate matrices as flat
// CSV, XLSX or JSON tables plus a YAML run summary.
package export

import (
	"strconv"

	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

// Sheet is one flat output table.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AssignmentSheet lists assignments in creation order.
func AssignmentSheet(as []model.Assignment) Sheet {
	s := Sheet{
		Name:   "assignments",
		Header: []string{"cow_id", "class", "rank", "bull_id", "quality", "risk", "defect", "remaining_after"},
		Rows:   make([][]string, 0, len(as)),
	}
	for _, a := range as {
		s.Rows = append(s.Rows, []string{
			a.CowID,
			string(a.Class),
			strconv.Itoa(a.Rank),
			a.BullID,
			ftoa(a.Quality),
			ftoa(a.Risk),
			string(a.Defect),
			strconv.Itoa(a.RemainingAfter),
		})
	}
	return s
}

// CandidateSheet lists, per cow and class, the three recommended bulls and
// the size of the full candidate list.
func CandidateSheet(m *matrix.Matrix) Sheet {
	s := Sheet{
		Name:   "candidates",
		Header: []string{"cow_id", "group", "cow_score", "class", "choice_1", "choice_2", "choice_3", "candidates"},
	}
	for _, row := range m.Rows {
		cowScore := ""
		if row.Cow.Score != nil {
			cowScore = ftoa(*row.Cow.Score)
		}
		for _, class := range model.Classes() {
			rec := row.Recommended(class)
			choices := make([]string, model.MaxRank)
			for i, c := range rec {
				choices[i] = c.BullID
			}
			line := []string{row.Cow.ID, row.Cow.Group, cowScore, string(class)}
			line = append(line, choices...)
			line = append(line, strconv.Itoa(len(row.Candidates[class])))
			s.Rows = append(s.Rows, line)
		}
	}
	return s
}

// UsageSheet lists per-bull inventory consumption.
func UsageSheet(rows []model.UsageRow) Sheet {
	s := Sheet{
		Name:   "usage",
		Header: []string{"bull_id", "class", "original", "used", "remaining", "utilization_pct"},
		Rows:   make([][]string, 0, len(rows)),
	}
	for _, u := range rows {
		s.Rows = append(s.Rows, []string{
			u.BullID,
			string(u.Class),
			strconv.Itoa(u.Original),
			strconv.Itoa(u.Used),
			strconv.Itoa(u.Remaining),
			strconv.FormatFloat(u.Utilization, 'f', 2, 64),
		})
	}
	return s
}

// ShortfallSheet lists cows that received fewer than three choices in a class.
func ShortfallSheet(sf []model.Shortfall) Sheet {
	s := Sheet{
		Name:   "shortfalls",
		Header: []string{"cow_id", "group", "class", "assigned", "unallocated"},
		Rows:   make([][]string, 0, len(sf)),
	}
	for _, x := range sf {
		s.Rows = append(s.Rows, []string{
			x.CowID,
			x.Group,
			string(x.Class),
			strconv.Itoa(x.Assigned),
			strconv.FormatBool(x.Unallocated()),
		})
	}
	return s
}

// WarningSheet lists data-quality and processing warnings.
func WarningSheet(ws []model.Warning) Sheet {
	s := Sheet{
		Name:   "warnings",
		Header: []string{"kind", "subject", "detail"},
		Rows:   make([][]string, 0, len(ws)),
	}
	for _, w := range ws {
		s.Rows = append(s.Rows, []string{string(w.Kind), w.Subject, w.Detail})
	}
	return s
}
