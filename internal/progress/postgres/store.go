package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dhvani-app/dhvani/internal/eval"
	"github.com/dhvani-app/dhvani/internal/progress"
)

// Compile-time interface check.
var _ progress.Store = (*Store)(nil)

// uniqueViolation is the PostgreSQL error code for duplicate-key inserts,
// used to detect an already-applied idempotency token under concurrency.
const uniqueViolation = "23505"

// Store implements progress.Store backed by PostgreSQL. Per-pair
// serialization comes from a row-level lock (SELECT ... FOR UPDATE) inside a
// single transaction per Apply call. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure the required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("progress store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("progress store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Apply implements progress.Store. The whole update runs in one transaction:
// the idempotency token is claimed first, then the pair's row is locked,
// folded, and written back. A duplicate token aborts the transaction and the
// pair's current record is returned unchanged.
func (s *Store) Apply(ctx context.Context, childID, promptID string, att *eval.Attempt, token string) (*progress.Outcome, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("progress store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if token != "" {
		_, err := tx.Exec(ctx, `
			INSERT INTO attempt_tokens (token, child_id, prompt_id)
			VALUES ($1, $2, $3)`,
			token, childID, promptID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				rec, getErr := s.Get(ctx, childID, promptID)
				if getErr != nil {
					return nil, getErr
				}
				return &progress.Outcome{Record: *rec, Duplicate: true}, nil
			}
			return nil, fmt.Errorf("progress store: claim token: %w", err)
		}
	}

	rec := progress.Record{ChildID: childID, PromptID: promptID}
	err = tx.QueryRow(ctx, `
		SELECT best_score, total_attempts, total_points, mastered
		FROM progress_records
		WHERE child_id = $1 AND prompt_id = $2
		FOR UPDATE`,
		childID, promptID,
	).Scan(&rec.BestScore, &rec.TotalAttempts, &rec.TotalPoints, &rec.Mastered)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("progress store: lock record: %w", err)
	}

	isPersonalBest := progress.Fold(&rec, att)

	err = tx.QueryRow(ctx, `
		INSERT INTO progress_records
			(child_id, prompt_id, best_score, total_attempts, total_points, mastered, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (child_id, prompt_id) DO UPDATE SET
			best_score     = EXCLUDED.best_score,
			total_attempts = EXCLUDED.total_attempts,
			total_points   = EXCLUDED.total_points,
			mastered       = EXCLUDED.mastered,
			updated_at     = now()
		RETURNING updated_at`,
		childID, promptID, rec.BestScore, rec.TotalAttempts, rec.TotalPoints, rec.Mastered,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("progress store: write record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("progress store: commit: %w", err)
	}

	return &progress.Outcome{Record: rec, IsPersonalBest: isPersonalBest}, nil
}

// Get implements progress.Store.
func (s *Store) Get(ctx context.Context, childID, promptID string) (*progress.Record, error) {
	rec := progress.Record{ChildID: childID, PromptID: promptID}
	err := s.pool.QueryRow(ctx, `
		SELECT best_score, total_attempts, total_points, mastered, updated_at
		FROM progress_records
		WHERE child_id = $1 AND prompt_id = $2`,
		childID, promptID,
	).Scan(&rec.BestScore, &rec.TotalAttempts, &rec.TotalPoints, &rec.Mastered, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, progress.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("progress store: get: %w", err)
	}
	return &rec, nil
}

// List implements progress.Store.
func (s *Store) List(ctx context.Context, childID string) ([]progress.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT prompt_id, best_score, total_attempts, total_points, mastered, updated_at
		FROM progress_records
		WHERE child_id = $1
		ORDER BY updated_at DESC`,
		childID)
	if err != nil {
		return nil, fmt.Errorf("progress store: list: %w", err)
	}
	defer rows.Close()

	var out []progress.Record
	for rows.Next() {
		rec := progress.Record{ChildID: childID}
		if err := rows.Scan(&rec.PromptID, &rec.BestScore, &rec.TotalAttempts, &rec.TotalPoints, &rec.Mastered, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("progress store: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("progress store: rows: %w", err)
	}
	return out, nil
}
