package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewhall1124/backtest-test/internal/backtest"
	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio"
	"github.com/andrewhall1124/backtest-test/internal/risk"
	"github.com/andrewhall1124/backtest-test/internal/s0_data/quality"
	"github.com/andrewhall1124/backtest-test/internal/s2_signals"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// Orchestrator coordinates one backtest run end to end
// ⭐ SSOT: 파이프라인 조율은 여기서만
type Orchestrator struct {
	store    contracts.PanelStore
	gate     *quality.Gate
	pipeline *s2_signals.Pipeline
	driver   *backtest.Driver
	writers  []contracts.WeightWriter
	risk     *risk.Engine

	logger *logger.Logger
}

// RunConfig holds configuration for a pipeline run
type RunConfig struct {
	StartDate   time.Time
	EndDate     time.Time
	WarmupDays  int // calendar days loaded before StartDate for the momentum window
	InUniverse  bool
	Constraints []portfolio.Constraint
	Gamma       float64
	StrictGate  bool // If true, a failed quality gate aborts the run
	DryRun      bool // If true, skip persistence
}

// RunResult holds the results of a complete pipeline run
type RunResult struct {
	RunID           string
	CompletedStages []string
	PanelRows       int
	Quality         *quality.Snapshot
	SignalRows      int
	AlphaRows       int
	Backtest        *backtest.Result
	Performance     *backtest.Performance
	Risk            *risk.Report
	Duration        time.Duration
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	store contracts.PanelStore,
	gate *quality.Gate,
	pipeline *s2_signals.Pipeline,
	driver *backtest.Driver,
	writers []contracts.WeightWriter,
	logger *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		gate:     gate,
		pipeline: pipeline,
		driver:   driver,
		writers:  writers,
		logger:   logger.Module("brain"),
	}
}

// WithRisk adds a tail-risk report of the realized returns to S7
func (o *Orchestrator) WithRisk(engine *risk.Engine) *Orchestrator {
	o.risk = engine
	return o
}

// Run executes load → quality → signals → optimize → persist → audit
func (o *Orchestrator) Run(ctx context.Context, config RunConfig) (*RunResult, error) {
	startTime := time.Now()
	if config.EndDate.Before(config.StartDate) {
		return nil, fmt.Errorf("end date %s before start date %s",
			config.EndDate.Format("2006-01-02"), config.StartDate.Format("2006-01-02"))
	}

	result := &RunResult{CompletedStages: make([]string, 0)}

	o.logger.WithFields(map[string]interface{}{
		"start_date":  config.StartDate.Format("2006-01-02"),
		"end_date":    config.EndDate.Format("2006-01-02"),
		"warmup_days": config.WarmupDays,
		"gamma":       config.Gamma,
		"constraints": portfolio.Names(config.Constraints),
		"dry_run":     config.DryRun,
	}).Info("Starting pipeline run")

	// S0: Load panel
	panel, err := o.runS0(ctx, config)
	if err != nil {
		return result, fmt.Errorf("S0 failed: %w", err)
	}
	result.PanelRows = len(panel)
	result.CompletedStages = append(result.CompletedStages, contracts.StageLoad.String())

	// S1: Quality gate (skip if no gate)
	if o.gate != nil {
		result.Quality = o.runS1(panel)
		if !result.Quality.Passed && config.StrictGate {
			return result, fmt.Errorf("S1 failed: %v", result.Quality.Violations)
		}
		result.CompletedStages = append(result.CompletedStages, contracts.StageQuality.String())
	}

	// S2: Signals
	signals, err := o.pipeline.Compute(ctx, panel)
	if err != nil {
		return result, fmt.Errorf("S2 failed: %w", err)
	}
	inRange := make([]contracts.SignalRecord, 0, len(signals))
	for _, s := range signals {
		if !s.Date.Before(config.StartDate) {
			inRange = append(inRange, s)
		}
	}
	alphas := contracts.FilterAlpha(inRange)
	result.SignalRows = len(inRange)
	result.AlphaRows = len(alphas)
	result.CompletedStages = append(result.CompletedStages, contracts.StageSignals.String())

	o.logger.WithFields(map[string]interface{}{
		"signal_rows": len(inRange),
		"alpha_rows":  len(alphas),
	}).Info("S2 completed")

	// S5: Walk-forward optimization
	bt, err := o.driver.Run(ctx, alphas, config.Constraints, config.Gamma)
	if err != nil {
		return result, fmt.Errorf("S5 failed: %w", err)
	}
	bt.Summary.StartDate = config.StartDate
	bt.Summary.EndDate = config.EndDate
	result.RunID = bt.Summary.RunID
	result.Backtest = bt
	result.CompletedStages = append(result.CompletedStages, contracts.StageOptimize.String())

	// S6: Persist (skip if dry run)
	if !config.DryRun {
		for _, w := range o.writers {
			if err := w.WriteWeights(ctx, bt.Summary, bt.Weights); err != nil {
				return result, fmt.Errorf("S6 failed: %w", err)
			}
		}
		result.CompletedStages = append(result.CompletedStages, contracts.StagePersist.String())
	} else {
		o.logger.Info("Skipping " + contracts.StagePersist.String() + " (dry run mode)")
	}

	// S7: Realized performance of the weights
	result.Performance = backtest.Evaluate(bt.Weights, signals)
	if o.risk != nil {
		report, err := o.risk.Report(ctx, result.Performance.Returns())
		if err != nil {
			return result, fmt.Errorf("S7 failed: %w", err)
		}
		if len(report.Warnings) > 0 {
			o.logger.WithFields(map[string]interface{}{
				"warnings": report.Warnings,
			}).Warn("S7 risk report incomplete")
		}
		result.Risk = report
	}
	result.CompletedStages = append(result.CompletedStages, contracts.StageAudit.String())

	result.Duration = time.Since(startTime)

	o.logger.WithFields(map[string]interface{}{
		"run_id":       result.RunID,
		"duration":     result.Duration.Seconds(),
		"stages":       len(result.CompletedStages),
		"weights":      len(bt.Weights),
		"failures":     len(bt.Failures),
		"total_return": fmt.Sprintf("%.2f%%", result.Performance.TotalReturn*100),
		"max_drawdown": fmt.Sprintf("%.2f%%", result.Performance.MaxDrawdown*100),
	}).Info("Pipeline run completed successfully")

	return result, nil
}

// Signals runs S0 and S2 only and returns every signal row in the date range
func (o *Orchestrator) Signals(ctx context.Context, config RunConfig) ([]contracts.SignalRecord, error) {
	panel, err := o.runS0(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("S0 failed: %w", err)
	}
	signals, err := o.pipeline.Compute(ctx, panel)
	if err != nil {
		return nil, fmt.Errorf("S2 failed: %w", err)
	}
	out := make([]contracts.SignalRecord, 0, len(signals))
	for _, s := range signals {
		if !s.Date.Before(config.StartDate) {
			out = append(out, s)
		}
	}
	return out, nil
}

// runS0 loads the panel including the warmup history. With WarmupDays 0 only
// StartDate..EndDate is read and the first Window+Lag dates carry no alpha.
func (o *Orchestrator) runS0(ctx context.Context, config RunConfig) ([]contracts.AssetDateRecord, error) {
	o.logger.Info("Running S0: Loading panel")

	q := contracts.PanelQuery{
		Start:      config.StartDate.AddDate(0, 0, -config.WarmupDays),
		End:        config.EndDate,
		Columns:    panelColumns(config.Constraints),
		InUniverse: config.InUniverse,
	}
	panel, err := o.store.LoadAssets(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load panel: %w", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"rows":       len(panel),
		"load_start": q.Start.Format("2006-01-02"),
	}).Info("S0 completed")

	return panel, nil
}

// runS1 reports panel coverage; violations are warnings unless the run is strict
func (o *Orchestrator) runS1(panel []contracts.AssetDateRecord) *quality.Snapshot {
	snapshot := o.gate.Check(panel)

	fields := map[string]interface{}{
		"rows":          snapshot.Rows,
		"assets":        snapshot.Assets,
		"dates":         snapshot.Dates,
		"quality_score": fmt.Sprintf("%.3f", snapshot.QualityScore),
	}
	if !snapshot.Passed {
		fields["violations"] = snapshot.Violations
		o.logger.WithFields(fields).Warn("S1 quality gate not passed")
		return snapshot
	}
	o.logger.WithFields(fields).Info("S1 completed")
	return snapshot
}

// panelColumns adds sector ids when a constraint consumes them
func panelColumns(constraints []portfolio.Constraint) []string {
	cols := append([]string(nil), contracts.DefaultColumns...)
	if portfolio.NeedsAux(contracts.AuxSectors, constraints, nil) {
		return append(cols, contracts.ColumnSectorID)
	}
	return cols
}
