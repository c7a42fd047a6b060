package backtest

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// Config holds walk-forward driver settings
type Config struct {
	Workers   int                 // <= 0 means runtime.NumCPU()
	MinAssets int                 // dates with fewer optimizable assets are skipped
	NetTarget float64             // per-date sum of weights
	Risk      portfolio.RiskModel // nil means diagonal
	IC        float64             // recorded in the run summary
}

// DefaultConfig returns the driver defaults
func DefaultConfig() Config {
	return Config{Workers: 0, MinAssets: 2, NetTarget: 0}
}

// Result holds the outcome of one walk-forward run
type Result struct {
	Summary  contracts.RunSummary
	Weights  []contracts.WeightRecord // sorted by (date, asset_id)
	Failures []contracts.Failure      // sorted by date
}

// Driver re-optimizes every date independently and in parallel
// ⭐ SSOT: 워크포워드 백테스트 실행은 여기서만
type Driver struct {
	optimizer *portfolio.Optimizer
	config    Config
	logger    *logger.Logger
}

// NewDriver creates a new walk-forward driver
func NewDriver(optimizer *portfolio.Optimizer, config Config, log *logger.Logger) *Driver {
	return &Driver{
		optimizer: optimizer,
		config:    config,
		logger:    log.Module("backtest"),
	}
}

// dateOutcome is the slot one task writes
type dateOutcome struct {
	weights  []contracts.WeightRecord
	failure  *contracts.Failure
	excluded int
}

// Run optimizes every date present in signals. Per-date problems become
// Failures; only invalid run settings and cancellation return an error.
func (d *Driver) Run(ctx context.Context, signals []contracts.SignalRecord, constraints []portfolio.Constraint, gamma float64) (*Result, error) {
	if err := portfolio.ValidateSet(constraints); err != nil {
		return nil, fmt.Errorf("invalid constraint set: %w", err)
	}
	if gamma <= 0 {
		return nil, &contracts.ConfigurationError{Reason: fmt.Sprintf("gamma must be positive, got %g", gamma)}
	}
	minAssets := d.config.MinAssets
	if minAssets < 1 {
		minAssets = 1
	}
	workers := d.config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	needBetas := portfolio.NeedsAux(contracts.AuxBetas, constraints, d.config.Risk)

	started := time.Now()
	dates, groups := partitionByDate(signals)

	d.logger.WithFields(map[string]interface{}{
		"dates":       len(dates),
		"rows":        len(signals),
		"workers":     workers,
		"gamma":       gamma,
		"constraints": portfolio.Names(constraints),
	}).Info("Starting walk-forward backtest")

	// 1. One task per date, each writing its own slot
	outcomes := make([]dateOutcome, len(dates))
	g := new(errgroup.Group)
	g.SetLimit(workers)

	for i, date := range dates {
		if ctx.Err() != nil {
			break
		}
		rows := groups[date.Format(time.DateOnly)]
		g.Go(func() error {
			outcomes[i] = d.runDate(ctx, date, rows, constraints, gamma, minAssets, needBetas)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("backtest canceled: %w", err)
	}

	// 2. Merge in date order
	result := &Result{
		Weights:  make([]contracts.WeightRecord, 0),
		Failures: make([]contracts.Failure, 0),
	}
	solved, failed, skipped, excluded := 0, 0, 0, 0
	for _, o := range outcomes {
		excluded += o.excluded
		switch {
		case o.failure == nil:
			solved++
			result.Weights = append(result.Weights, o.weights...)
		case o.failure.IsWarning():
			skipped++
			result.Failures = append(result.Failures, *o.failure)
		default:
			failed++
			result.Failures = append(result.Failures, *o.failure)
		}
	}
	sort.SliceStable(result.Failures, func(i, j int) bool {
		return result.Failures[i].Date.Before(result.Failures[j].Date)
	})

	result.Summary = contracts.RunSummary{
		RunID:       uuid.NewString(),
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Dates:       len(dates),
		Solved:      solved,
		Failed:      failed,
		Skipped:     skipped,
		Gamma:       gamma,
		IC:          d.config.IC,
		Workers:     workers,
		Constraints: portfolio.Names(constraints),
	}
	if len(dates) > 0 {
		result.Summary.StartDate = dates[0]
		result.Summary.EndDate = dates[len(dates)-1]
	}

	d.logger.WithFields(map[string]interface{}{
		"run_id":          result.Summary.RunID,
		"solved":          solved,
		"failed":          failed,
		"skipped":         skipped,
		"excluded_assets": excluded,
		"weights":         len(result.Weights),
		"duration":        time.Since(started).Seconds(),
	}).Info("Walk-forward backtest completed")

	return result, nil
}

// runDate builds and solves one date; it never carries state to other dates
func (d *Driver) runDate(
	ctx context.Context,
	date time.Time,
	rows []contracts.SignalRecord,
	constraints []portfolio.Constraint,
	gamma float64,
	minAssets int,
	needBetas bool,
) dateOutcome {
	day := date.Format(time.DateOnly)
	u := BuildUniverse(date, rows, needBetas)
	out := dateOutcome{excluded: len(u.Excluded)}

	if len(u.Excluded) > 0 {
		d.logger.WithFields(map[string]interface{}{
			"date":     day,
			"excluded": u.Excluded,
		}).Warn("Assets excluded from universe")
	}

	if u.Count() < minAssets {
		f := contracts.Failure{
			Date:    date,
			Kind:    contracts.FailureDataQuality,
			Message: fmt.Sprintf("%d optimizable assets, need at least %d", u.Count(), minAssets),
		}
		d.logger.WithFields(map[string]interface{}{
			"date":   day,
			"assets": u.Count(),
		}).Warn("Skipping date: universe too small")
		out.failure = &f
		return out
	}

	sol, err := d.optimizer.Optimize(ctx, portfolio.Problem{
		Universe:    u,
		Constraints: constraints,
		Risk:        d.config.Risk,
		Gamma:       gamma,
		NetTarget:   d.config.NetTarget,
	})
	if err != nil {
		f := contracts.ClassifyFailure(date, err)
		d.logger.WithFields(map[string]interface{}{
			"date": day,
			"kind": string(f.Kind),
		}).WithError(err).Error("Date optimization failed")
		out.failure = &f
		return out
	}

	out.weights = sol.Records()
	return out
}
