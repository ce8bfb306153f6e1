package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/herdline/breeding-cli/internal/db"
	"github.com/herdline/breeding-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	params     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    JSONB,
	detail     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	cow_id          TEXT NOT NULL,
	bull_id         TEXT NOT NULL,
	rank            SMALLINT NOT NULL CHECK (rank BETWEEN 1 AND 3),
	class           TEXT NOT NULL,
	quality         DOUBLE PRECISION NOT NULL,
	risk            DOUBLE PRECISION NOT NULL,
	defect          TEXT NOT NULL,
	remaining_after INTEGER NOT NULL CHECK (remaining_after >= 0),
	PRIMARY KEY (run_id, seq),
	UNIQUE (run_id, cow_id, class, rank),
	UNIQUE (run_id, cow_id, class, bull_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_assignments_bull ON assignments(run_id, bull_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, paramsJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

// SaveResult replaces any stored assignments of the run and marks it complete
// in one transaction. Assignments are bulk-loaded with COPY.
func (s *PostgresStore) SaveResult(ctx context.Context, runID string, result *model.RunResult) error {
	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	detailJSON, err := json.Marshal(resultDetail{Usage: result.Usage, Shortfalls: result.Shortfalls})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal detail")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE runs SET summary = $1, detail = $2, status = $3, error = '', updated_at = $4 WHERE id = $5`,
		summaryJSON, detailJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM assignments WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear assignments %s", runID)
	}
	if _, err := db.CopyFrom(ctx, tx, "assignments", assignmentColumns, assignmentRows(runID, result.Assignments)); err != nil {
		return eris.Wrapf(err, "postgres: copy assignments %s", runID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit result")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, params, status, summary, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, params, status, summary, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argN)
		args = append(args, filter.CreatedAfter)
		argN++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argN)
	args = append(args, listLimit(filter))
	argN++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListAssignments(ctx context.Context, runID string, filter AssignmentFilter) ([]model.Assignment, error) {
	query := `SELECT cow_id, bull_id, rank, class, quality, risk, defect, remaining_after FROM assignments WHERE run_id = $1`
	args := []any{runID}
	if filter.CowID != "" {
		args = append(args, filter.CowID)
		query += fmt.Sprintf(` AND cow_id = $%d`, len(args))
	}
	if filter.Class != "" {
		args = append(args, string(filter.Class))
		query += fmt.Sprintf(` AND class = $%d`, len(args))
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list assignments %s", runID)
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var (
			a            model.Assignment
			rank         int16
			class, defct string
		)
		if err := rows.Scan(&a.CowID, &a.BullID, &rank, &class, &a.Quality, &a.Risk, &defct, &a.RemainingAfter); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assignment")
		}
		a.Rank = int(rank)
		a.Class = model.SemenClass(class)
		a.Defect = model.DefectStatus(defct)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assignments iterate")
}

func (s *PostgresStore) GetResult(ctx context.Context, runID string) (*model.RunResult, error) {
	var summaryJSON, detailJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT summary, detail FROM runs WHERE id = $1`, runID).
		Scan(&summaryJSON, &detailJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result %s", runID)
	}

	assignments, err := s.ListAssignments(ctx, runID, AssignmentFilter{})
	if err != nil {
		return nil, err
	}
	return decodeResult(string(summaryJSON), string(detailJSON), assignments)
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var (
		r           model.Run
		status      string
		paramsJSON  []byte
		summaryJSON []byte
	)
	err := row.Scan(&r.ID, &paramsJSON, &status, &summaryJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	r.Status = model.RunStatus(status)
	if err := decodeRun(&r, string(paramsJSON), string(summaryJSON)); err != nil {
		return nil, err
	}
	return &r, nil
}
