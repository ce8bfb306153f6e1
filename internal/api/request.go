package api

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"

	"github.com/herdline/breeding-cli/internal/loader"
	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

// runRequest is the POST /runs body. Tables are inline; risks are fractions.
type runRequest struct {
	Bulls       []bullRow        `json:"bulls"`
	Cows        []model.Cow      `json:"cows"`
	Eligibility []eligibilityRow `json:"eligibility"`
	Cohorts     []string         `json:"cohorts"`

	RiskCutoffPercent    *float64 `json:"risk_cutoff_percent"`
	RiskThresholdPercent *float64 `json:"risk_threshold_percent"`
	ControlDefectGenes   *bool    `json:"control_defect_genes"`
	EnsureMinimumQuota   *bool    `json:"ensure_minimum_quota"`
	ExcludeHighDefect    *bool    `json:"exclude_high_defect"`
}

type bullRow struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Class string  `json:"class"`
	Count int     `json:"count"`
	Score float64 `json:"score"`
}

type eligibilityRow struct {
	CowID  string             `json:"cow_id"`
	BullID string             `json:"bull_id"`
	Risk   float64            `json:"risk"`
	Defect model.DefectStatus `json:"defect"`
	Genes  []string           `json:"genes"`
}

func decodeRunRequest(body io.Reader) (*runRequest, error) {
	var req runRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, eris.Wrap(err, "invalid request body")
	}
	if len(req.Bulls) == 0 {
		return nil, eris.New("bulls are required")
	}
	if len(req.Cows) == 0 {
		return nil, eris.New("cows are required")
	}
	return &req, nil
}

// dataset validates the inline tables. Bulls with a count of zero or less are
// excluded the same way the file loader excludes them.
func (req *runRequest) dataset() (*loader.Dataset, error) {
	ds := &loader.Dataset{Eligibility: matrix.NewTable(len(req.Eligibility))}

	seen := make(map[string]bool, len(req.Bulls))
	for i, b := range req.Bulls {
		if b.ID == "" {
			return nil, fmt.Errorf("bulls[%d]: id is required", i)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("bulls[%d]: duplicate id %q", i, b.ID)
		}
		seen[b.ID] = true
		class, ok := model.ParseSemenClass(b.Class)
		if !ok {
			return nil, fmt.Errorf("bulls[%d]: unknown class %q", i, b.Class)
		}
		if b.Count <= 0 {
			continue
		}
		ds.Bulls = append(ds.Bulls, model.Bull{ID: b.ID, Name: b.Name, Class: class, Count: b.Count, Score: b.Score})
	}

	cows := make(map[string]bool, len(req.Cows))
	for i, c := range req.Cows {
		if c.ID == "" {
			return nil, fmt.Errorf("cows[%d]: id is required", i)
		}
		if cows[c.ID] {
			return nil, fmt.Errorf("cows[%d]: duplicate id %q", i, c.ID)
		}
		cows[c.ID] = true
	}
	ds.Cows = req.Cows

	for i, e := range req.Eligibility {
		if e.CowID == "" || e.BullID == "" {
			return nil, fmt.Errorf("eligibility[%d]: cow_id and bull_id are required", i)
		}
		if e.Risk < 0 || e.Risk > 1 {
			return nil, fmt.Errorf("eligibility[%d]: risk %v must be a fraction between 0 and 1", i, e.Risk)
		}
		defect := e.Defect
		switch defect {
		case "":
			defect = model.DefectNone
		case model.DefectNone, model.DefectCarrier, model.DefectHigh:
		default:
			return nil, fmt.Errorf("eligibility[%d]: unknown defect %q", i, e.Defect)
		}
		ds.Eligibility.Set(e.CowID, e.BullID, model.Eligibility{Risk: e.Risk, Defect: defect, Genes: e.Genes})
	}
	return ds, nil
}
