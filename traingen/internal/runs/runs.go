// Package runs keeps generator run bookkeeping in Postgres: one row per
// invocation with its range, status, and outcome.
package runs

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when no run exists for the given id.
var ErrRunNotFound = errors.New("run not found")

// Run is one generator invocation for a tenant and date range.
type Run struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	RangeStart   time.Time  `json:"range_start"`
	RangeEnd     time.Time  `json:"range_end"`
	Status       string     `json:"status"`
	SampleCount  int        `json:"sample_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Repository stores runs in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects, applies pending migrations, and verifies the
// connection.
func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	if err := applyMigrations(connString); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

func applyMigrations(connString string) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, connString)
	if err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Create inserts a new run in the running state and returns its id.
func (r *Repository) Create(ctx context.Context, tenant string, rangeStart, rangeEnd time.Time) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	run := &Run{
		ID:         id.String(),
		TenantID:   tenant,
		RangeStart: rangeStart.UTC(),
		RangeEnd:   rangeEnd.UTC(),
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO traingen_runs (id, tenant_id, range_start, range_end, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.TenantID, run.RangeStart, run.RangeEnd, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Complete marks a run completed with its final sample count.
func (r *Repository) Complete(ctx context.Context, id string, sampleCount int) error {
	return r.finish(ctx, id, StatusCompleted, sampleCount, "")
}

// Fail marks a run failed with the error message.
func (r *Repository) Fail(ctx context.Context, id string, message string) error {
	return r.finish(ctx, id, StatusFailed, 0, message)
}

func (r *Repository) finish(ctx context.Context, id, status string, sampleCount int, message string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE traingen_runs
		SET status = $2, sample_count = $3, error_message = $4, completed_at = now()
		WHERE id = $1`,
		id, status, sampleCount, message)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get returns one run by id.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, range_start, range_end, status, sample_count,
		       coalesce(error_message, ''), started_at, completed_at
		FROM traingen_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// List returns the most recent runs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, range_start, range_end, status, sample_count,
		       coalesce(error_message, ''), started_at, completed_at
		FROM traingen_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.TenantID, &run.RangeStart, &run.RangeEnd,
		&run.Status, &run.SampleCount, &run.ErrorMessage, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
