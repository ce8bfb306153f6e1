// Package loader maps raw input tables onto the herd model, reporting
// data-quality problems as warnings instead of failing the run.
package loader

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/width"

	"github.com/herdline/breeding-cli/internal/fetcher"
	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

// Fatal input errors. Match with errors.Is.
var (
	ErrMissingColumn      = eris.New("loader: missing required column")
	ErrMissingGroupColumn = eris.New("loader: cow table has no group column")
)

// RiskScale is the unit the eligibility risk column is written in.
type RiskScale string

const (
	ScaleFraction RiskScale = "fraction"
	ScalePercent  RiskScale = "percent"
)

// Options controls how cell values are interpreted.
type Options struct {
	RiskScale      RiskScale
	HighRiskValues []string
	CarrierValues  []string
}

// DefaultHighRiskValues are the defect cell values that mark a pair high risk.
func DefaultHighRiskValues() []string {
	return []string{"high", "affected", "homozygous", "yes", "y", "true", "1", "高", "高リスク", "あり"}
}

// DefaultCarrierValues are the defect cell values that mark a carrier.
func DefaultCarrierValues() []string {
	return []string{"carrier", "het", "heterozygous", "c", "キャリア", "保因"}
}

// DefaultOptions returns fraction-scaled risk with the default value sets.
func DefaultOptions() Options {
	return Options{
		RiskScale:      ScaleFraction,
		HighRiskValues: DefaultHighRiskValues(),
		CarrierValues:  DefaultCarrierValues(),
	}
}

// Paths names the three input files. Eligibility is optional.
type Paths struct {
	Bulls       string
	Cows        string
	Eligibility string
}

// Dataset is the loaded, validated input of one run.
type Dataset struct {
	Bulls       []model.Bull
	Cows        []model.Cow
	Eligibility *matrix.Table
	Warnings    []model.Warning
}

// LoadAll reads and maps the three tables concurrently.
func LoadAll(ctx context.Context, paths Paths, opts Options) (*Dataset, error) {
	ds := &Dataset{Eligibility: matrix.NewTable(0)}
	var bullWarn, cowWarn, eligWarn []model.Warning

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := fetcher.ReadTable(gctx, paths.Bulls)
		if err != nil {
			return eris.Wrap(err, "loader: bulls")
		}
		ds.Bulls, bullWarn, err = LoadBulls(t)
		return err
	})
	g.Go(func() error {
		t, err := fetcher.ReadTable(gctx, paths.Cows)
		if err != nil {
			return eris.Wrap(err, "loader: cows")
		}
		ds.Cows, cowWarn, err = LoadCows(t)
		return err
	})
	if paths.Eligibility != "" {
		g.Go(func() error {
			t, err := fetcher.ReadTable(gctx, paths.Eligibility)
			if err != nil {
				return eris.Wrap(err, "loader: eligibility")
			}
			ds.Eligibility, eligWarn, err = LoadEligibility(t, opts)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds.Warnings = append(ds.Warnings, bullWarn...)
	ds.Warnings = append(ds.Warnings, cowWarn...)
	ds.Warnings = append(ds.Warnings, eligWarn...)

	zap.L().Info("loader: input loaded",
		zap.Int("bulls", len(ds.Bulls)),
		zap.Int("cows", len(ds.Cows)),
		zap.Int("eligibility_pairs", ds.Eligibility.Len()),
		zap.Int("warnings", len(ds.Warnings)),
	)
	return ds, nil
}

// LoadBulls maps a bull table. Rows with a malformed count or an unknown
// class are skipped; bulls with a count of zero or less are excluded.
func LoadBulls(t *fetcher.Table) ([]model.Bull, []model.Warning, error) {
	cols := resolveColumns(t.Header, bullAliases)
	if miss := cols.missing(colID, colClass, colCount); len(miss) > 0 {
		return nil, nil, eris.Wrapf(ErrMissingColumn, "loader: %s: %s", t.Source, strings.Join(miss, ", "))
	}

	var (
		bulls    []model.Bull
		warnings []model.Warning
		excluded int
	)
	if !cols.has(colScore) {
		// Without a score column every bull scores 0; warn once for the table.
		warnings = append(warnings, model.Warning{
			Kind:    model.WarnMalformedField,
			Subject: t.Source,
			Detail:  "bull table has no score column; every bull scores 0",
		})
	}
	seen := make(map[string]bool)
	for i := range t.Rows {
		id := cols.get(t, i, colID)
		if id == "" {
			warnings = append(warnings, malformed(t.Source, i, "empty bull id"))
			continue
		}
		if seen[id] {
			warnings = append(warnings, malformed(id, i, "duplicate bull id; first row kept"))
			continue
		}

		class, ok := model.ParseSemenClass(cols.get(t, i, colClass))
		if !ok {
			warnings = append(warnings, malformed(id, i, "unknown semen class "+strconv.Quote(cols.get(t, i, colClass))))
			continue
		}

		count, err := parseCount(cols.get(t, i, colCount))
		if err != nil {
			warnings = append(warnings, malformed(id, i, "count "+strconv.Quote(cols.get(t, i, colCount))+" is not an integer"))
			continue
		}
		if count <= 0 {
			excluded++
			continue
		}

		var score float64
		if cols.has(colScore) {
			score, err = parseNumber(cols.get(t, i, colScore))
			if err != nil {
				warnings = append(warnings, malformed(id, i, "score "+strconv.Quote(cols.get(t, i, colScore))+" is not numeric; 0 used"))
				score = 0
			}
		}

		seen[id] = true
		bulls = append(bulls, model.Bull{
			ID:    id,
			Name:  cols.get(t, i, colName),
			Class: class,
			Count: count,
			Score: score,
		})
	}

	zap.L().Debug("loader: bulls mapped",
		zap.String("source", t.Source),
		zap.Int("bulls", len(bulls)),
		zap.Int("excluded_no_stock", excluded),
	)
	return bulls, warnings, nil
}

// LoadCows maps a cow table. A missing or non-numeric score leaves the cow
// without a score; such cows are reported and never allocated.
func LoadCows(t *fetcher.Table) ([]model.Cow, []model.Warning, error) {
	cols := resolveColumns(t.Header, cowAliases)
	if !cols.has(colGroup) {
		return nil, nil, eris.Wrapf(ErrMissingGroupColumn, "loader: %s", t.Source)
	}
	if miss := cols.missing(colID); len(miss) > 0 {
		return nil, nil, eris.Wrapf(ErrMissingColumn, "loader: %s: %s", t.Source, strings.Join(miss, ", "))
	}

	var (
		cows     []model.Cow
		warnings []model.Warning
	)
	seen := make(map[string]bool)
	for i := range t.Rows {
		id := cols.get(t, i, colID)
		if id == "" {
			warnings = append(warnings, malformed(t.Source, i, "empty cow id"))
			continue
		}
		if seen[id] {
			warnings = append(warnings, malformed(id, i, "duplicate cow id; first row kept"))
			continue
		}
		seen[id] = true
		cow := model.Cow{ID: id, Group: cols.get(t, i, colGroup)}

		raw := cols.get(t, i, colScore)
		switch v, err := parseNumber(raw); {
		case raw == "":
			warnings = append(warnings, model.Warning{Kind: model.WarnMissingScore, Subject: id, Detail: "no score"})
		case err != nil:
			warnings = append(warnings, malformed(id, i, "score "+strconv.Quote(raw)+" is not numeric"))
		default:
			cow.Score = &v
		}
		cows = append(cows, cow)
	}
	return cows, warnings, nil
}

// LoadEligibility maps a pairwise eligibility table. Columns other than the
// pair keys, risk and an explicit defect status are read as named defect
// flags.
func LoadEligibility(t *fetcher.Table, opts Options) (*matrix.Table, []model.Warning, error) {
	cols := resolveColumns(t.Header, eligibilityAliases)
	if miss := cols.missing(colCowID, colBullID); len(miss) > 0 {
		return nil, nil, eris.Wrapf(ErrMissingColumn, "loader: %s: %s", t.Source, strings.Join(miss, ", "))
	}
	flags := cols.unclaimed(t.Header)
	high := valueSet(opts.HighRiskValues)
	carrier := valueSet(opts.CarrierValues)

	table := matrix.NewTable(len(t.Rows))
	var warnings []model.Warning
	for i := range t.Rows {
		cowID, bullID := cols.get(t, i, colCowID), cols.get(t, i, colBullID)
		if cowID == "" || bullID == "" {
			warnings = append(warnings, malformed(t.Source, i, "eligibility row without cow or bull id"))
			continue
		}
		subject := cowID + "/" + bullID

		e := model.DefaultEligibility()
		if raw := cols.get(t, i, colRisk); raw != "" {
			risk, clamped, err := parseRisk(raw, opts.RiskScale)
			switch {
			case err != nil:
				warnings = append(warnings, malformed(subject, i, "risk "+strconv.Quote(raw)+" is not numeric; 0 used"))
			case clamped:
				warnings = append(warnings, malformed(subject, i,
					"risk "+strconv.Quote(raw)+" is outside [0,1] as "+string(opts.RiskScale)+"; "+strconv.FormatFloat(risk, 'f', -1, 64)+" used"))
				e.Risk = risk
			default:
				e.Risk = risk
			}
		}

		if cols.has(colDefect) {
			e.Defect = classify(cols.get(t, i, colDefect), high, carrier)
		}
		for _, idx := range flags {
			switch classify(t.Cell(i, idx), high, carrier) {
			case model.DefectHigh:
				e.Defect = model.DefectHigh
				e.Genes = append(e.Genes, strings.TrimSpace(t.Header[idx]))
			case model.DefectCarrier:
				if e.Defect == model.DefectNone {
					e.Defect = model.DefectCarrier
				}
			}
		}

		table.Set(cowID, bullID, e)
	}
	return table, warnings, nil
}

func classify(raw string, high, carrier map[string]bool) model.DefectStatus {
	v := normalizeValue(raw)
	switch {
	case v == "":
		return model.DefectNone
	case high[v]:
		return model.DefectHigh
	case carrier[v]:
		return model.DefectCarrier
	}
	return model.DefectNone
}

func valueSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		if n := normalizeValue(v); n != "" {
			out[n] = true
		}
	}
	return out
}

func malformed(subject string, row int, detail string) model.Warning {
	return model.Warning{
		Kind:    model.WarnMalformedField,
		Subject: subject,
		Detail:  "row " + strconv.Itoa(row+2) + ": " + detail,
	}
}

// cleanNumber folds full-width digits and drops thousands separators.
func cleanNumber(s string) string {
	s = strings.TrimSpace(width.Fold.String(s))
	return strings.ReplaceAll(s, ",", "")
}

func parseNumber(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, eris.New("loader: empty number")
	}
	v, err := strconv.ParseFloat(cleanNumber(s), 64)
	if err != nil {
		return 0, eris.Wrap(err, "loader: parse number")
	}
	return v, nil
}

func parseCount(s string) (int, error) {
	c := cleanNumber(s)
	if n, err := strconv.Atoi(c); err == nil {
		return n, nil
	}
	// Spreadsheets often store integers as "3.0".
	d, err := decimal.NewFromString(c)
	if err != nil || !d.IsInteger() {
		return 0, eris.Errorf("loader: %q is not an integer", s)
	}
	return int(d.IntPart()), nil
}

// parseRisk converts a risk cell to a fraction. A trailing "%" always means
// percent; otherwise scale decides. Results outside [0,1] are clamped and
// reported through clamped.
func parseRisk(s string, scale RiskScale) (risk float64, clamped bool, err error) {
	c := cleanNumber(s)
	percent := scale == ScalePercent
	if strings.HasSuffix(c, "%") {
		percent = true
		c = strings.TrimSpace(strings.TrimSuffix(c, "%"))
	}
	d, err := decimal.NewFromString(c)
	if err != nil {
		return 0, false, eris.Wrap(err, "loader: parse risk")
	}
	if percent {
		d = d.Div(decimal.NewFromInt(100))
	}
	switch {
	case d.IsNegative():
		d, clamped = decimal.Zero, true
	case d.GreaterThan(decimal.NewFromInt(1)):
		d, clamped = decimal.NewFromInt(1), true
	}
	return d.InexactFloat64(), clamped, nil
}
