package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

var d0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return d0.AddDate(0, 0, n)
}

func signal(asset string, date time.Time, alpha, risk, beta *float64) contracts.SignalRecord {
	return contracts.SignalRecord{
		AssetID:       asset,
		Date:          date,
		SpecificRisk:  risk,
		PredictedBeta: beta,
		Alpha:         alpha,
	}
}

// abc returns the A, B, C example rows for one date
func abc(date time.Time) []contracts.SignalRecord {
	f := contracts.Float
	return []contracts.SignalRecord{
		signal("C", date, f(0.015), f(0.18), f(1.0)),
		signal("A", date, f(0.02), f(0.2), f(1.1)),
		signal("B", date, f(-0.01), f(0.25), f(0.9)),
	}
}

func newTestDriver(workers int) *Driver {
	opt := portfolio.NewOptimizer(portfolio.DefaultSolverConfig(), logger.NewNop())
	cfg := DefaultConfig()
	cfg.Workers = workers
	return NewDriver(opt, cfg, logger.NewNop())
}

func mixedSignals() []contracts.SignalRecord {
	f := contracts.Float
	var signals []contracts.SignalRecord

	// day 3: only A has an alpha
	signals = append(signals,
		signal("A", day(3), f(0.01), f(0.2), f(1)),
		signal("B", day(3), nil, f(0.2), f(1)),
	)
	// day 4: valid, D has no beta
	signals = append(signals, abc(day(4))...)
	signals = append(signals, signal("D", day(4), f(0.03), f(0.3), nil))
	// day 2: non-finite alpha
	bad := abc(day(2))
	bad[2].Alpha = f(math.NaN())
	signals = append(signals, bad...)
	// day 1: valid
	signals = append(signals, abc(day(1))...)
	return signals
}

func TestDriver_Run_OrderingAndFailures(t *testing.T) {
	res, err := newTestDriver(3).Run(context.Background(), mixedSignals(), []portfolio.Constraint{portfolio.ZeroBeta{}}, 2)
	require.NoError(t, err)

	// weights only for the solved dates, sorted by (date, asset_id)
	require.Len(t, res.Weights, 6)
	want := []struct {
		date  time.Time
		asset string
	}{
		{day(1), "A"}, {day(1), "B"}, {day(1), "C"},
		{day(4), "A"}, {day(4), "B"}, {day(4), "C"},
	}
	for i, w := range want {
		assert.Equal(t, w.date, res.Weights[i].Date, "row %d", i)
		assert.Equal(t, w.asset, res.Weights[i].AssetID, "row %d", i)
	}

	// each solved date satisfies the budget and zero beta
	betas := map[string]float64{"A": 1.1, "B": 0.9, "C": 1.0}
	for _, d := range []time.Time{day(1), day(4)} {
		sum, exposure := 0.0, 0.0
		for _, w := range res.Weights {
			if w.Date.Equal(d) {
				sum += w.Weight
				exposure += betas[w.AssetID] * w.Weight
			}
		}
		assert.InDelta(t, 0.0, sum, 1e-9)
		assert.InDelta(t, 0.0, exposure, 1e-9)
	}

	require.Len(t, res.Failures, 2)
	assert.Equal(t, day(2), res.Failures[0].Date)
	assert.Equal(t, contracts.FailureConfiguration, res.Failures[0].Kind)
	assert.Equal(t, day(3), res.Failures[1].Date)
	assert.Equal(t, contracts.FailureDataQuality, res.Failures[1].Kind)

	s := res.Summary
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 4, s.Dates)
	assert.Equal(t, 2, s.Solved)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, day(1), s.StartDate)
	assert.Equal(t, day(4), s.EndDate)
	assert.Equal(t, []string{"zero_beta"}, s.Constraints)
}

func TestDriver_Run_WorkerCountDoesNotChangeResult(t *testing.T) {
	signals := mixedSignals()
	constraints := []portfolio.Constraint{portfolio.ZeroBeta{}, portfolio.GrossPosition{Max: 0.03}}

	serial, err := newTestDriver(1).Run(context.Background(), signals, constraints, 2)
	require.NoError(t, err)

	// more workers than dates
	wide, err := newTestDriver(64).Run(context.Background(), signals, constraints, 2)
	require.NoError(t, err)

	auto, err := newTestDriver(0).Run(context.Background(), signals, constraints, 2)
	require.NoError(t, err)

	assert.Equal(t, serial.Weights, wide.Weights)
	assert.Equal(t, serial.Weights, auto.Weights)
	assert.Equal(t, serial.Failures, wide.Failures)
	assert.Equal(t, 64, wide.Summary.Workers)
	assert.Greater(t, auto.Summary.Workers, 0)
}

func TestDriver_Run_SingleAssetDateIsSkipped(t *testing.T) {
	f := contracts.Float
	signals := []contracts.SignalRecord{signal("A", day(1), f(0.01), f(0.2), f(1))}

	res, err := newTestDriver(2).Run(context.Background(), signals, []portfolio.Constraint{portfolio.ZeroBeta{}}, 2)
	require.NoError(t, err)

	assert.Empty(t, res.Weights)
	require.Len(t, res.Failures, 1)
	assert.True(t, res.Failures[0].IsWarning())
	assert.Equal(t, 1, res.Summary.Skipped)
	assert.Equal(t, 0, res.Summary.Failed)
}

func TestDriver_Run_ConfigurationFailuresAreNotFatal(t *testing.T) {
	// sector neutral without sector data fails every date but the run completes
	res, err := newTestDriver(2).Run(context.Background(), append(abc(day(1)), abc(day(2))...),
		[]portfolio.Constraint{portfolio.SectorNeutral{}}, 2)
	require.NoError(t, err)

	assert.Empty(t, res.Weights)
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, contracts.FailureConfiguration, f.Kind)
		assert.Contains(t, f.Message, "sector_ids")
	}
}

func TestDriver_Run_InfeasibleDate(t *testing.T) {
	res, err := newTestDriver(2).Run(context.Background(), abc(day(1)),
		[]portfolio.Constraint{portfolio.ZeroBeta{}, portfolio.BetaBounds{Lower: 1, Upper: 2}}, 2)
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, contracts.FailureInfeasible, res.Failures[0].Kind)
}

func TestDriver_Run_SectorNeutral(t *testing.T) {
	rows := abc(day(1))
	for i, sector := range []int64{1, 2, 1} {
		s := sector
		rows[i].SectorID = &s
	}
	rows = append(rows, signal("D", day(1), contracts.Float(0.01), contracts.Float(0.22), contracts.Float(1.2)))
	d := int64(2)
	rows[3].SectorID = &d

	res, err := newTestDriver(1).Run(context.Background(), rows, []portfolio.Constraint{portfolio.SectorNeutral{}}, 2)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Weights, 4)

	// C, B in sector 1; A, D in sector 2
	net := map[string]float64{}
	sector := map[string]string{"C": "1", "B": "1", "A": "2", "D": "2"}
	for _, w := range res.Weights {
		net[sector[w.AssetID]] += w.Weight
	}
	assert.InDelta(t, 0.0, net["1"], 1e-9)
	assert.InDelta(t, 0.0, net["2"], 1e-9)
}

func TestDriver_Run_FatalErrors(t *testing.T) {
	d := newTestDriver(1)

	_, err := d.Run(context.Background(), abc(day(1)), []portfolio.Constraint{portfolio.ZeroBeta{}, portfolio.ZeroBeta{}}, 2)
	assert.ErrorContains(t, err, "invalid constraint set")

	_, err = d.Run(context.Background(), abc(day(1)), nil, 0)
	assert.ErrorContains(t, err, "gamma")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Run(ctx, abc(day(1)), nil, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDriver_Run_Empty(t *testing.T) {
	res, err := newTestDriver(1).Run(context.Background(), nil, nil, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Weights)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 0, res.Summary.Dates)
}

func TestBuildUniverse(t *testing.T) {
	f := contracts.Float
	rows := []contracts.SignalRecord{
		signal("C", day(1), f(0.01), f(0.2), f(1)),
		signal("A", day(1), f(0.02), f(0.3), f(1.2)),
		signal("B", day(1), f(0.03), nil, f(1)),
		signal("D", day(1), f(0.04), f(0.2), nil),
		signal("E", day(1), nil, f(0.2), f(1)),
	}

	u := BuildUniverse(day(1), rows, true)
	assert.Equal(t, []string{"A", "C"}, u.AssetIDs)
	assert.Equal(t, []float64{0.02, 0.01}, u.Alphas)
	assert.Equal(t, []float64{0.3, 0.2}, u.SpecificRisk)
	assert.Equal(t, []float64{1.2, 1}, u.Aux[contracts.AuxBetas])
	assert.Equal(t, map[string]string{"B": ReasonMissingRisk, "D": ReasonMissingBeta}, u.Excluded)
	_, hasSectors := u.Aux[contracts.AuxSectors]
	assert.False(t, hasSectors)

	// without a beta reader D stays and the incomplete betas are withheld
	u = BuildUniverse(day(1), rows, false)
	assert.Equal(t, []string{"A", "C", "D"}, u.AssetIDs)
	assert.Equal(t, []float64{0.3, 0.2, 0.2}, u.SpecificRisk)
	assert.Nil(t, u.Betas)
	_, hasBetas := u.Aux[contracts.AuxBetas]
	assert.False(t, hasBetas)
	assert.Equal(t, map[string]string{"B": ReasonMissingRisk}, u.Excluded)

	// complete betas are still published
	u = BuildUniverse(day(1), rows[:2], false)
	assert.Equal(t, []float64{1.2, 1}, u.Aux[contracts.AuxBetas])
}

// betaTilt reads betas without declaring them
type betaTilt struct{}

func (betaTilt) Name() string { return "beta_tilt" }

func (c betaTilt) Apply(w portfolio.Variable, aux portfolio.AuxData) ([]portfolio.LinearConstraint, error) {
	betas, err := aux.Require(c.Name(), contracts.AuxBetas, w.N)
	if err != nil {
		return nil, err
	}
	return []portfolio.LinearConstraint{w.Dot(betas).Le(1).Named(c.Name())}, nil
}

func TestDriver_Run_MissingBetaWithoutBetaConstraint(t *testing.T) {
	f := contracts.Float
	signals := []contracts.SignalRecord{
		signal("A", day(1), f(0.02), f(0.2), f(1.1)),
		signal("B", day(1), f(-0.01), f(0.25), nil),
		signal("C", day(1), f(0.015), f(0.18), f(1.0)),
	}

	res, err := newTestDriver(1).Run(context.Background(), signals,
		[]portfolio.Constraint{portfolio.Box{Lower: -1, Upper: 1}}, 2)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Weights, 3)
	sum := 0.0
	for i, asset := range []string{"A", "B", "C"} {
		assert.Equal(t, asset, res.Weights[i].AssetID)
		sum += res.Weights[i].Weight
	}
	assert.InDelta(t, 0.0, sum, 1e-9)

	// a beta reader that does not declare it gets a configuration failure
	res, err = newTestDriver(1).Run(context.Background(), signals, []portfolio.Constraint{betaTilt{}}, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Weights)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, contracts.FailureConfiguration, res.Failures[0].Kind)

	// zero_beta declares betas, so B is excluded and A, C are solved
	res, err = newTestDriver(1).Run(context.Background(), signals, []portfolio.Constraint{portfolio.ZeroBeta{}}, 2)
	require.NoError(t, err)
	require.Len(t, res.Weights, 2)
	assert.Equal(t, "A", res.Weights[0].AssetID)
	assert.Equal(t, "C", res.Weights[1].AssetID)
}
