package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

// Format is an output table format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX, FormatJSON:
		return f, nil
	}
	return "", eris.Errorf("export: unknown format %q (csv, xlsx, json)", s)
}

// WriteCSV writes a sheet with its header row.
func WriteCSV(w io.Writer, s Sheet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Header); err != nil {
		return eris.Wrapf(err, "export: write %s header", s.Name)
	}
	if err := cw.WriteAll(s.Rows); err != nil {
		return eris.Wrapf(err, "export: write %s rows", s.Name)
	}
	return nil
}

// WriteXLSX writes every sheet into one workbook at path.
func WriteXLSX(path string, sheets ...Sheet) error {
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.Name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", s.Name)
		}
		addRow(sheet, s.Header)
		for _, r := range s.Rows {
			addRow(sheet, r)
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

// Report is the YAML run summary.
type Report struct {
	RunID    string           `yaml:"run_id,omitempty"`
	Summary  model.RunSummary `yaml:"summary"`
	FillRate float64          `yaml:"fill_rate"`
	Quality  []RankStats      `yaml:"quality_by_rank"`
	Usage    []model.UsageRow `yaml:"usage"`
}

// NewReport assembles the summary report of a run.
func NewReport(runID string, res *model.RunResult) Report {
	return Report{
		RunID:    runID,
		Summary:  res.Summary,
		FillRate: res.Summary.FillRate(),
		Quality:  QualityByRank(res.Assignments),
		Usage:    res.Usage,
	}
}

// WriteYAML writes v as YAML.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "export: encode yaml")
	}
	return eris.Wrap(enc.Close(), "export: close yaml encoder")
}

// WriteRun writes the assignment, usage, shortfall and warning tables of a run
// into dir, plus summary.yaml. It returns the paths written.
func WriteRun(dir string, format Format, runID string, res *model.RunResult) ([]string, error) {
	sheets := []Sheet{
		AssignmentSheet(res.Assignments),
		UsageSheet(res.Usage),
		ShortfallSheet(res.Shortfalls),
		WarningSheet(res.Summary.Warnings),
	}
	payload := map[string]any{
		"assignments": res.Assignments,
		"usage":       res.Usage,
		"shortfalls":  res.Shortfalls,
		"warnings":    res.Summary.Warnings,
	}

	paths, err := writeSheets(dir, format, "allocation", sheets, payload)
	if err != nil {
		return nil, err
	}

	summaryPath := filepath.Join(dir, "summary.yaml")
	if err := writeFile(summaryPath, func(w io.Writer) error {
		return WriteYAML(w, NewReport(runID, res))
	}); err != nil {
		return nil, err
	}
	paths = append(paths, summaryPath)

	zap.L().Info("export: run written",
		zap.String("dir", dir),
		zap.String("format", string(format)),
		zap.Int("files", len(paths)),
	)
	return paths, nil
}

// WriteCandidates writes the candidate matrix into dir.
func WriteCandidates(dir string, format Format, m *matrix.Matrix) ([]string, error) {
	sheets := []Sheet{CandidateSheet(m)}
	if len(m.Warnings) > 0 {
		sheets = append(sheets, WarningSheet(m.Warnings))
	}
	return writeSheets(dir, format, "candidates", sheets, m)
}

func writeSheets(dir string, format Format, base string, sheets []Sheet, payload any) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "export: create output dir")
	}

	switch format {
	case FormatXLSX:
		path := filepath.Join(dir, base+".xlsx")
		if err := WriteXLSX(path, sheets...); err != nil {
			return nil, err
		}
		return []string{path}, nil
	case FormatJSON:
		path := filepath.Join(dir, base+".json")
		if err := writeFile(path, func(w io.Writer) error { return WriteJSON(w, payload) }); err != nil {
			return nil, err
		}
		return []string{path}, nil
	case FormatCSV:
		var paths []string
		for _, s := range sheets {
			s := s
			path := filepath.Join(dir, s.Name+".csv")
			if err := writeFile(path, func(w io.Writer) error { return WriteCSV(w, s) }); err != nil {
				return nil, err
			}
			paths = append(paths, path)
		}
		return paths, nil
	}
	return nil, eris.Errorf("export: unknown format %q", format)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}
