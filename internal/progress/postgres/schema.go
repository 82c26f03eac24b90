// Package postgres provides a PostgreSQL-backed implementation of
// progress.Store.
//
// All operations share a single [pgxpool.Pool]. [Migrate] creates the
// required tables on first use via CREATE TABLE IF NOT EXISTS, so pointing
// the store at an empty database is enough to bootstrap it.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	outcome, err := store.Apply(ctx, childID, promptID, attempt, token)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlProgress = `
CREATE TABLE IF NOT EXISTS progress_records (
    child_id       TEXT         NOT NULL,
    prompt_id      TEXT         NOT NULL,
    best_score     INT          NOT NULL DEFAULT 0,
    total_attempts INT          NOT NULL DEFAULT 0,
    total_points   INT          NOT NULL DEFAULT 0,
    mastered       BOOLEAN      NOT NULL DEFAULT FALSE,
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (child_id, prompt_id)
);

CREATE INDEX IF NOT EXISTS idx_progress_records_child
    ON progress_records (child_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS attempt_tokens (
    token      TEXT         PRIMARY KEY,
    child_id   TEXT         NOT NULL,
    prompt_id  TEXT         NOT NULL,
    applied_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate ensures all tables and indexes required by the store exist. It is
// idempotent and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlProgress); err != nil {
		return fmt.Errorf("progress migrate: %w", err)
	}
	return nil
}
