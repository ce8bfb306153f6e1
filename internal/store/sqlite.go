package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/herdline/breeding-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	params     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    TEXT,
	detail     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	cow_id          TEXT NOT NULL,
	bull_id         TEXT NOT NULL,
	rank            INTEGER NOT NULL,
	class           TEXT NOT NULL,
	quality         REAL NOT NULL,
	risk            REAL NOT NULL,
	defect          TEXT NOT NULL,
	remaining_after INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq),
	UNIQUE (run_id, cow_id, class, rank),
	UNIQUE (run_id, cow_id, class, bull_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_assignments_bull ON assignments(run_id, bull_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, params, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(paramsJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// SaveResult replaces any stored assignments of the run and marks it complete
// in one transaction.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, result *model.RunResult) error {
	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	detailJSON, err := json.Marshal(resultDetail{Usage: result.Usage, Shortfalls: result.Shortfalls})
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal detail")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET summary = ?, detail = ?, status = ?, error = '', updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(detailJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	if err := checkRowsAffected(res, runID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear assignments %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assignments (`+strings.Join(assignmentColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare assignment insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range assignmentRows(runID, result.Assignments) {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert assignment for run %s", runID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit result")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, params, status, summary, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, params, status, summary, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, runID string, filter AssignmentFilter) ([]model.Assignment, error) {
	query := `SELECT cow_id, bull_id, rank, class, quality, risk, defect, remaining_after FROM assignments WHERE run_id = ?`
	args := []any{runID}
	if filter.CowID != "" {
		query += ` AND cow_id = ?`
		args = append(args, filter.CowID)
	}
	if filter.Class != "" {
		query += ` AND class = ?`
		args = append(args, string(filter.Class))
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list assignments %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assignments iterate")
}

func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*model.RunResult, error) {
	var summaryJSON, detailJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT summary, detail FROM runs WHERE id = ?`, runID).
		Scan(&summaryJSON, &detailJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", runID)
	}

	assignments, err := s.ListAssignments(ctx, runID, AssignmentFilter{})
	if err != nil {
		return nil, err
	}
	return decodeResult(summaryJSON.String, detailJSON.String, assignments)
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var paramsJSON string
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &paramsJSON, &r.Status, &summaryJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	if err := decodeRun(&r, paramsJSON, summaryJSON.String); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanAssignment(row scannable) (model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(&a.CowID, &a.BullID, &a.Rank, &a.Class, &a.Quality, &a.Risk, &a.Defect, &a.RemainingAfter)
	return a, err
}

func decodeRun(r *model.Run, paramsJSON, summaryJSON string) error {
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return eris.Wrap(err, "unmarshal params")
	}
	if summaryJSON != "" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON), r.Summary); err != nil {
			return eris.Wrap(err, "unmarshal summary")
		}
	}
	return nil
}

func decodeResult(summaryJSON, detailJSON string, assignments []model.Assignment) (*model.RunResult, error) {
	res := &model.RunResult{Assignments: assignments}
	if summaryJSON != "" {
		if err := json.Unmarshal([]byte(summaryJSON), &res.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal summary")
		}
	}
	if detailJSON != "" {
		var d resultDetail
		if err := json.Unmarshal([]byte(detailJSON), &d); err != nil {
			return nil, eris.Wrap(err, "unmarshal detail")
		}
		res.Usage, res.Shortfalls = d.Usage, d.Shortfalls
	}
	return res, nil
}
