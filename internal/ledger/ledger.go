// Package ledger provides the optional Postgres run ledger. When a DSN is
// configured, every finished job outcome becomes one row keyed by the run id.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DinhLiu/arXiv-Crawler/internal/harvest"
)

// DB is the subset of pgxpool.Pool the ledger needs; pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

// Ledger records job outcomes.
//
// Expected schema:
//
//	CREATE TABLE harvest_outcomes (
//	    run_id UUID NOT NULL,
//	    paper_id TEXT NOT NULL,
//	    status TEXT NOT NULL,
//	    failed_stages TEXT[] NOT NULL,
//	    duration_ms BIGINT NOT NULL,
//	    recorded_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (run_id, paper_id)
//	);
type Ledger struct {
	db DB
}

// Open connects a pgx pool and verifies the connection.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Ledger{db: pool}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db DB) *Ledger {
	return &Ledger{db: db}
}

// Close releases the underlying pool.
func (l *Ledger) Close() {
	l.db.Close()
}

// RecordOutcome inserts one row for a finished job.
func (l *Ledger) RecordOutcome(ctx context.Context, runID uuid.UUID, o harvest.Outcome) error {
	query := `
		INSERT INTO harvest_outcomes (run_id, paper_id, status, failed_stages, duration_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	failed := o.FailedStages()
	if failed == nil {
		failed = []string{}
	}
	_, err := l.db.Exec(ctx, query,
		runID,
		o.ID.DirName(),
		string(o.Status),
		failed,
		o.Duration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", o.ID.DirName(), err)
	}
	return nil
}
