// Package pgindex is the optional secondary rally-history index named in
// the persistence layout: flat JSON files under jsonstore are the source of
// truth for one rally, but answering "show me every Failed rally across all
// my repos this week" means scanning every session directory on disk. This
// package mirrors each rally's summary into Postgres for that kind of
// cross-repository search, using lib/pq the same way the teacher's
// storage/postgres/postgres.go upserts review rows — CREATE TABLE IF NOT
// EXISTS plus an ON CONFLICT upsert, no migration framework.
package pgindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// SessionRecord mirrors the rally.Session fields worth searching on without
// importing package rally, keeping pgindex usable from the CLI entrypoint
// without a dependency cycle.
type SessionRecord struct {
	Repo          string
	PRNumber      int
	Phase         string
	Iteration     int
	FailureReason string
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// Index provides a searchable mirror of rally sessions in PostgreSQL.
type Index struct {
	db *sql.DB
}

// New wraps an existing *sql.DB.
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// NewFromDSN opens and pings a new connection.
func NewFromDSN(dsn string) (*Index, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Migrate creates the rally_sessions table if it does not already exist.
func (idx *Index) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS rally_sessions (
			id SERIAL PRIMARY KEY,
			repo TEXT NOT NULL,
			pr_number INTEGER NOT NULL,
			phase TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			failure_reason TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE(repo, pr_number, started_at)
		);

		CREATE INDEX IF NOT EXISTS idx_rally_sessions_repo ON rally_sessions(repo);
		CREATE INDEX IF NOT EXISTS idx_rally_sessions_phase ON rally_sessions(phase);
	`
	if _, err := idx.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertSession mirrors one rally session's current summary. cmd/rally's
// mirrorRallyEvents calls it once per RallyEvent when -pg-dsn is set,
// which includes agent progress events as well as phase changes.
func (idx *Index) UpsertSession(ctx context.Context, rec SessionRecord) error {
	query := `
		INSERT INTO rally_sessions (repo, pr_number, phase, iteration, failure_reason, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repo, pr_number, started_at) DO UPDATE SET
			phase = EXCLUDED.phase,
			iteration = EXCLUDED.iteration,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at
	`
	_, err := idx.db.ExecContext(ctx, query,
		rec.Repo, rec.PRNumber, rec.Phase, rec.Iteration, rec.FailureReason, rec.StartedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rally session: %w", err)
	}
	return nil
}

// ListSessionsForRepo returns every indexed session for one repo, most
// recent first.
func (idx *Index) ListSessionsForRepo(ctx context.Context, repo string) ([]SessionRecord, error) {
	return idx.query(ctx, `
		SELECT repo, pr_number, phase, iteration, failure_reason, started_at, updated_at
		FROM rally_sessions WHERE repo = $1 ORDER BY updated_at DESC
	`, repo)
}

// SearchByPhase returns every indexed session across all repos in a given
// phase (e.g. "failed"), most recently updated first.
func (idx *Index) SearchByPhase(ctx context.Context, phase string) ([]SessionRecord, error) {
	return idx.query(ctx, `
		SELECT repo, pr_number, phase, iteration, failure_reason, started_at, updated_at
		FROM rally_sessions WHERE phase = $1 ORDER BY updated_at DESC
	`, phase)
}

func (idx *Index) query(ctx context.Context, query string, args ...any) ([]SessionRecord, error) {
	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rally sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var failureReason sql.NullString
		if err := rows.Scan(&rec.Repo, &rec.PRNumber, &rec.Phase, &rec.Iteration, &failureReason, &rec.StartedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rally session: %w", err)
		}
		rec.FailureReason = failureReason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
