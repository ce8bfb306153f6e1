package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Table is a parsed input file: one header row and the data rows below it.
type Table struct {
	Source string
	Header []string
	Rows   [][]string
}

// Cell returns the value of column col in row i, or "" when the row is short.
func (t *Table) Cell(i, col int) string {
	if col < 0 || i < 0 || i >= len(t.Rows) || col >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][col]
}

// ReadTable reads a CSV, TSV or XLSX file chosen by extension. The first
// non-empty row is the header.
func ReadTable(ctx context.Context, path string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		rows, err = ReadXLSX(path, XLSXOptions{})
	case ".csv", ".tsv", ".txt", "":
		rows, err = readDelimited(ctx, path, ext)
	default:
		return nil, eris.Errorf("fetcher: unsupported file type %q for %s", ext, path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("fetcher: %s is empty", path)
	}

	zap.L().Debug("fetcher: table loaded",
		zap.String("path", path),
		zap.Int("rows", len(rows)-1),
		zap.Int("columns", len(rows[0])),
	)
	return &Table{Source: path, Header: rows[0], Rows: rows[1:]}, nil
}

func readDelimited(ctx context.Context, path, ext string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	opts := CSVOptions{TrimSpace: true, LazyQuotes: true, SkipBlank: true}
	if ext == ".tsv" {
		opts.Delimiter = '\t'
	}
	return ReadCSV(ctx, f, opts)
}
