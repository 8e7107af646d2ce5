// Package runstore persists run history to Postgres for audit. The
// engine runs fine without it; callers skip the store when no database
// is configured.
package runstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalamera/freshdesk-reconcile/pkg/reconcile"
)

// Run is one reconciliation run's audit record.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Seeds      []int64
	DryRun     bool
	Report     reconcile.Report
}

// NewRun starts an audit record for the given seeds.
func NewRun(seeds []int64, dryRun bool) Run {
	return Run{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Seeds:     append([]int64(nil), seeds...),
		DryRun:    dryRun,
	}
}

// Store writes run history through a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("runstore: pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveRun writes the run and its per-ticket outcomes in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("runstore: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO reconcile_runs (id, started_at, finished_at, dry_run, seeds, applied, skipped, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.StartedAt, run.FinishedAt, run.DryRun, run.Seeds,
		run.Report.Applied, run.Report.Skipped, run.Report.Failed,
	)
	if err != nil {
		return fmt.Errorf("runstore: inserting run %s: %w", run.ID, err)
	}

	for _, o := range run.Report.Details {
		_, err = tx.Exec(ctx, `
			INSERT INTO reconcile_outcomes (run_id, ticket_id, status, reason)
			VALUES ($1, $2, $3, $4)`,
			run.ID, o.TicketID, o.Status, o.Reason,
		)
		if err != nil {
			return fmt.Errorf("runstore: inserting outcome for ticket %d: %w", o.TicketID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("runstore: committing run %s: %w", run.ID, err)
	}
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Applied    int
	Skipped    int
	Failed     int
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, dry_run, applied, skipped, failed
		FROM reconcile_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.DryRun, &r.Applied, &r.Skipped, &r.Failed); err != nil {
			return nil, fmt.Errorf("runstore: scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
