package brain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhall1124/backtest-test/internal/backtest"
	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio"
	"github.com/andrewhall1124/backtest-test/internal/risk"
	"github.com/andrewhall1124/backtest-test/internal/s0_data/quality"
	"github.com/andrewhall1124/backtest-test/internal/s2_signals"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

type stubStore struct {
	panel   []contracts.AssetDateRecord
	err     error
	queries []contracts.PanelQuery
}

func (s *stubStore) LoadAssets(_ context.Context, q contracts.PanelQuery) ([]contracts.AssetDateRecord, error) {
	s.queries = append(s.queries, q)
	return s.panel, s.err
}

type recordingWriter struct {
	summaries []contracts.RunSummary
	weights   [][]contracts.WeightRecord
}

func (w *recordingWriter) WriteWeights(_ context.Context, summary contracts.RunSummary, weights []contracts.WeightRecord) error {
	w.summaries = append(w.summaries, summary)
	w.weights = append(w.weights, weights)
	return nil
}

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testPanel has eight consecutive days for three assets
func testPanel() []contracts.AssetDateRecord {
	f := contracts.Float
	panel := make([]contracts.AssetDateRecord, 0, 24)
	for d := 0; d < 8; d++ {
		date := jan1.AddDate(0, 0, d)
		panel = append(panel,
			contracts.AssetDateRecord{AssetID: "A", Date: date, Return: f(0.5), SpecificRisk: f(20), PredictedBeta: f(1.1), InUniverse: true},
			contracts.AssetDateRecord{AssetID: "B", Date: date, Return: f(1 + 0.1*float64(d)), SpecificRisk: f(25), PredictedBeta: f(0.9), InUniverse: true},
			contracts.AssetDateRecord{AssetID: "C", Date: date, Return: f(-0.7 + 0.05*float64(d)), SpecificRisk: f(18), PredictedBeta: f(1.0), InUniverse: true},
		)
	}
	return panel
}

func newTestOrchestrator(store contracts.PanelStore, writers ...contracts.WeightWriter) *Orchestrator {
	log := logger.NewNop()
	pipeline := s2_signals.NewPipeline(s2_signals.Config{IC: 0.05, Window: 2, Lag: 1, PercentScale: 100}, log)
	optimizer := portfolio.NewOptimizer(portfolio.DefaultSolverConfig(), log)
	driver := backtest.NewDriver(optimizer, backtest.DefaultConfig(), log)
	return NewOrchestrator(store, quality.NewGate(quality.DefaultConfig()), pipeline, driver, writers, log)
}

func runConfig() RunConfig {
	return RunConfig{
		StartDate:   jan1.AddDate(0, 0, 4),
		EndDate:     jan1.AddDate(0, 0, 7),
		WarmupDays:  4,
		Constraints: []portfolio.Constraint{portfolio.ZeroBeta{}},
		Gamma:       2,
	}
}

func TestOrchestrator_Run(t *testing.T) {
	store := &stubStore{panel: testPanel()}
	writer := &recordingWriter{}
	o := newTestOrchestrator(store, writer)

	result, err := o.Run(context.Background(), runConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"S0:Load", "S1:Quality", "S2:Signals", "S5:Optimize", "S6:Persist", "S7:Audit"}, result.CompletedStages)

	// warmup history is loaded before the start date
	require.Len(t, store.queries, 1)
	assert.Equal(t, jan1, store.queries[0].Start)
	assert.Equal(t, contracts.DefaultColumns, store.queries[0].Columns)

	assert.Equal(t, 24, result.PanelRows)
	assert.True(t, result.Quality.Passed)
	assert.Equal(t, 12, result.SignalRows)
	assert.Equal(t, 12, result.AlphaRows)

	bt := result.Backtest
	require.NotNil(t, bt)
	assert.Empty(t, bt.Failures)
	assert.Equal(t, 4, bt.Summary.Solved)
	require.Len(t, bt.Weights, 12)
	assert.Equal(t, runConfig().StartDate, bt.Weights[0].Date)
	for _, date := range []int{4, 5, 6, 7} {
		var day []contracts.WeightRecord
		for _, w := range bt.Weights {
			if w.Date.Equal(jan1.AddDate(0, 0, date)) {
				day = append(day, w)
			}
		}
		assert.InDelta(t, 0.0, contracts.NetExposure(day), 1e-9)
	}

	require.Len(t, writer.summaries, 1)
	assert.Equal(t, result.RunID, writer.summaries[0].RunID)
	assert.Equal(t, bt.Weights, writer.weights[0])

	require.NotNil(t, result.Performance)
	// the last date has no later return
	assert.Len(t, result.Performance.Periods, 4)
	assert.Equal(t, 3, result.Performance.MissingReturns)
}

func TestOrchestrator_Run_DryRun(t *testing.T) {
	writer := &recordingWriter{}
	o := newTestOrchestrator(&stubStore{panel: testPanel()}, writer)

	cfg := runConfig()
	cfg.DryRun = true
	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.NotContains(t, result.CompletedStages, "S6:Persist")
	assert.Empty(t, writer.summaries)
}

func TestOrchestrator_Run_SectorColumns(t *testing.T) {
	store := &stubStore{panel: testPanel()}
	o := newTestOrchestrator(store)

	cfg := runConfig()
	cfg.Constraints = []portfolio.Constraint{portfolio.SectorNeutral{}}
	cfg.DryRun = true
	result, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Contains(t, store.queries[0].Columns, contracts.ColumnSectorID)
	// no sector ids in the panel: every date fails, the run still completes
	assert.Len(t, result.Backtest.Failures, 4)
	assert.Empty(t, result.Backtest.Weights)
}

func TestOrchestrator_Run_StrictGate(t *testing.T) {
	panel := testPanel()
	for i := range panel {
		if panel[i].AssetID == "A" {
			panel[i].PredictedBeta = nil
		}
	}
	o := newTestOrchestrator(&stubStore{panel: panel})

	cfg := runConfig()
	cfg.StrictGate = true
	result, err := o.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S1 failed")
	assert.False(t, result.Quality.Passed)

	// without strict mode the gate only warns and A is excluded per date
	cfg.StrictGate = false
	cfg.DryRun = true
	result, err = o.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, result.Backtest.Weights, 8)
}

func TestOrchestrator_Run_Errors(t *testing.T) {
	o := newTestOrchestrator(&stubStore{err: contracts.ErrEmptyPanel})
	_, err := o.Run(context.Background(), runConfig())
	assert.True(t, errors.Is(err, contracts.ErrEmptyPanel))

	cfg := runConfig()
	cfg.EndDate = cfg.StartDate.AddDate(0, 0, -1)
	_, err = o.Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "before start date")

	cfg = runConfig()
	cfg.Gamma = 0
	_, err = newTestOrchestrator(&stubStore{panel: testPanel()}).Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "S5 failed")
}

func TestOrchestrator_Run_RiskReport(t *testing.T) {
	cfg := risk.DefaultMonteCarloConfig()
	cfg.Seed = 1
	engine, err := risk.NewEngine(cfg)
	require.NoError(t, err)

	o := newTestOrchestrator(&stubStore{panel: testPanel()}).WithRisk(engine)
	rc := runConfig()
	rc.DryRun = true
	result, err := o.Run(context.Background(), rc)
	require.NoError(t, err)

	require.NotNil(t, result.Risk)
	assert.Equal(t, len(result.Performance.Periods), result.Risk.Samples)
	assert.Len(t, result.Risk.Historical, 2)
	// four periods are below the simulation minimum
	assert.Nil(t, result.Risk.MonteCarlo)
	assert.NotEmpty(t, result.Risk.Warnings)
}

func TestOrchestrator_Signals(t *testing.T) {
	o := newTestOrchestrator(&stubStore{panel: testPanel()})

	signals, err := o.Signals(context.Background(), runConfig())
	require.NoError(t, err)
	require.Len(t, signals, 12)
	for _, s := range signals {
		assert.False(t, s.Date.Before(runConfig().StartDate))
		assert.NotNil(t, s.Alpha)
	}
}
