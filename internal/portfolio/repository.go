package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("backtest run not found")

// Repository handles run and weight persistence
// ⭐ SSOT: 백테스트 결과 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new portfolio repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the run and weight tables if they do not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS data;
		CREATE TABLE IF NOT EXISTS data.backtest_runs (
			run_id      UUID PRIMARY KEY,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			start_date  DATE NOT NULL,
			end_date    DATE NOT NULL,
			dates       INTEGER NOT NULL,
			solved      INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			skipped     INTEGER NOT NULL,
			gamma       DOUBLE PRECISION NOT NULL,
			ic          DOUBLE PRECISION NOT NULL,
			workers     INTEGER NOT NULL,
			constraints TEXT[] NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS data.portfolio_weights (
			run_id     UUID NOT NULL REFERENCES data.backtest_runs (run_id) ON DELETE CASCADE,
			trade_date DATE NOT NULL,
			asset_id   TEXT NOT NULL,
			weight     DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, trade_date, asset_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("create backtest schema: %w", err)
	}
	return nil
}

// WriteWeights stores the run summary and its weights in one transaction
func (r *Repository) WriteWeights(ctx context.Context, summary contracts.RunSummary, weights []contracts.WeightRecord) error {
	runID, err := uuid.Parse(summary.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", summary.RunID, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	constraints := summary.Constraints
	if constraints == nil {
		constraints = []string{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO data.backtest_runs (
			run_id, started_at, finished_at, start_date, end_date,
			dates, solved, failed, skipped, gamma, ic, workers, constraints
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		runID, summary.StartedAt, summary.FinishedAt, summary.StartDate, summary.EndDate,
		summary.Dates, summary.Solved, summary.Failed, summary.Skipped,
		summary.Gamma, summary.IC, summary.Workers, constraints,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"data", "portfolio_weights"},
		[]string{"run_id", "trade_date", "asset_id", "weight"},
		pgx.CopyFromSlice(len(weights), func(i int) ([]any, error) {
			w := weights[i]
			return []any{runID, w.Date, w.AssetID, w.Weight}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy weights: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `
	run_id::text, started_at, finished_at, start_date, end_date,
	dates, solved, failed, skipped, gamma, ic, workers, constraints
`

// ListRuns returns the most recent runs first
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]contracts.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM data.backtest_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]contracts.RunSummary, 0)
	for rows.Next() {
		s, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *s)
	}
	return runs, rows.Err()
}

// GetRun returns one run summary
func (r *Repository) GetRun(ctx context.Context, runID string) (*contracts.RunSummary, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM data.backtest_runs
		WHERE run_id::text = $1
	`, runID)

	s, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return s, err
}

// GetWeights returns a run's weights ordered by (date, asset_id).
// A non-nil date restricts the result to that date.
func (r *Repository) GetWeights(ctx context.Context, runID string, date *time.Time) ([]contracts.WeightRecord, error) {
	if _, err := r.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT asset_id, trade_date, weight
		FROM data.portfolio_weights
		WHERE run_id::text = $1
		  AND ($2::date IS NULL OR trade_date = $2::date)
		ORDER BY trade_date ASC, asset_id ASC
	`, runID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query weights: %w", err)
	}
	defer rows.Close()

	weights := make([]contracts.WeightRecord, 0)
	for rows.Next() {
		var w contracts.WeightRecord
		if err := rows.Scan(&w.AssetID, &w.Date, &w.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan weight: %w", err)
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

// DeleteRun removes a run and its weights
func (r *Repository) DeleteRun(ctx context.Context, runID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM data.backtest_runs WHERE run_id::text = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// DeleteRunsBefore removes runs started before cutoff and returns how many were removed
func (r *Repository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM data.backtest_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (*contracts.RunSummary, error) {
	var s contracts.RunSummary
	err := row.Scan(
		&s.RunID, &s.StartedAt, &s.FinishedAt, &s.StartDate, &s.EndDate,
		&s.Dates, &s.Solved, &s.Failed, &s.Skipped, &s.Gamma, &s.IC, &s.Workers, &s.Constraints,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return &s, nil
}
