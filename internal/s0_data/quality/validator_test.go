package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

func row(asset string, day int, ret, risk, beta *float64) contracts.AssetDateRecord {
	return contracts.AssetDateRecord{
		AssetID:       asset,
		Date:          time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Return:        ret,
		SpecificRisk:  risk,
		PredictedBeta: beta,
	}
}

func TestGate_Check(t *testing.T) {
	f := contracts.Float
	panel := []contracts.AssetDateRecord{
		row("A", 3, f(1), f(20), f(1)),
		row("B", 2, f(1), f(20), nil),
		row("A", 2, nil, f(20), f(1)),
		row("B", 3, f(1), f(20), f(1)),
	}

	snapshot := NewGate(DefaultConfig()).Check(panel)

	assert.Equal(t, 4, snapshot.Rows)
	assert.Equal(t, 2, snapshot.Assets)
	assert.Equal(t, 2, snapshot.Dates)
	assert.Equal(t, 2, snapshot.Start.Day())
	assert.Equal(t, 3, snapshot.End.Day())

	assert.InDelta(t, 0.75, snapshot.Coverage[contracts.ColumnReturn], 1e-12)
	assert.InDelta(t, 1.0, snapshot.Coverage[contracts.ColumnSpecificRisk], 1e-12)
	assert.InDelta(t, 0.75, snapshot.Coverage[contracts.ColumnPredictedBeta], 1e-12)
	assert.InDelta(t, 0.4*0.75+0.3*1+0.3*0.75, snapshot.QualityScore, 1e-12)

	assert.False(t, snapshot.Passed)
	require.Len(t, snapshot.Violations, 2)
	assert.Contains(t, snapshot.Violations[0], contracts.ColumnPredictedBeta)
	assert.Contains(t, snapshot.Violations[1], contracts.ColumnReturn)
}

func TestGate_Check_Passes(t *testing.T) {
	f := contracts.Float
	panel := []contracts.AssetDateRecord{
		row("A", 2, f(1), f(20), f(1)),
		row("B", 2, f(-1), f(30), f(0.8)),
	}

	snapshot := NewGate(DefaultConfig()).Check(panel)
	assert.True(t, snapshot.Passed)
	assert.Empty(t, snapshot.Violations)
	assert.InDelta(t, 1.0, snapshot.QualityScore, 1e-12)
}

func TestGate_Check_Empty(t *testing.T) {
	snapshot := NewGate(DefaultConfig()).Check(nil)
	assert.False(t, snapshot.Passed)
	assert.Equal(t, []string{"panel is empty"}, snapshot.Violations)
}
