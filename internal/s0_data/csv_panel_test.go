package s0_data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

const panelCSV = `date,asset_id,price,return,specific_risk,predicted_beta,sector_id,in_universe
2024-01-03,B,50.5,-0.8,31.0,0.9,2,true
2024-01-02,A,101.0,1.5,25.0,1.1,1,true
2024-01-02,B,51.0,,30.0,NaN,2,true
2024-01-03,A,102.0,0.99,25.5,1.1,1,false
2023-12-29,A,99.0,0.2,24.0,1.0,1,true
`

func query(start, end string) contracts.PanelQuery {
	s, _ := time.Parse(time.DateOnly, start)
	e, _ := time.Parse(time.DateOnly, end)
	return contracts.PanelQuery{Start: s, End: e}
}

func TestReadPanelCSV(t *testing.T) {
	panel, err := ReadPanelCSV(context.Background(), strings.NewReader(panelCSV), query("2024-01-01", "2024-12-31"))
	require.NoError(t, err)
	require.Len(t, panel, 4)

	// ordered by (date, asset_id)
	assert.Equal(t, "A", panel[0].AssetID)
	assert.Equal(t, "2024-01-02", panel[0].Date.Format(time.DateOnly))
	assert.Equal(t, "B", panel[1].AssetID)
	assert.Equal(t, "A", panel[2].AssetID)
	assert.Equal(t, "2024-01-03", panel[2].Date.Format(time.DateOnly))

	require.NotNil(t, panel[0].Return)
	assert.Equal(t, 1.5, *panel[0].Return)
	assert.Equal(t, 25.0, *panel[0].SpecificRisk)
	require.NotNil(t, panel[0].SectorID)
	assert.Equal(t, int64(1), *panel[0].SectorID)

	// blank and NaN load as missing
	assert.Nil(t, panel[1].Return)
	assert.Nil(t, panel[1].PredictedBeta)
	assert.False(t, panel[2].InUniverse)
}

func TestReadPanelCSV_InUniverseAndColumns(t *testing.T) {
	q := query("2024-01-01", "2024-12-31")
	q.InUniverse = true
	q.Columns = []string{contracts.ColumnDate, contracts.ColumnAssetID, contracts.ColumnReturn}

	panel, err := ReadPanelCSV(context.Background(), strings.NewReader(panelCSV), q)
	require.NoError(t, err)
	require.Len(t, panel, 3)

	for _, rec := range panel {
		assert.True(t, rec.InUniverse)
		assert.Nil(t, rec.Price, "price was not requested")
		assert.Nil(t, rec.SectorID, "sector was not requested")
	}
}

func TestReadPanelCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr error
		contain string
	}{
		{
			name:    "empty range",
			csv:     panelCSV,
			wantErr: contracts.ErrEmptyPanel,
		},
		{
			name:    "bad date",
			csv:     "date,asset_id,return\n01/02/2024,A,1\n",
			contain: "invalid date",
		},
		{
			name:    "bad number",
			csv:     "date,asset_id,return\n2030-01-02,A,abc\n",
			contain: "invalid return",
		},
		{
			name:    "missing asset",
			csv:     "date,asset_id,return\n2030-01-02,,1\n",
			contain: "missing asset_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPanelCSV(context.Background(), strings.NewReader(tt.csv), query("2030-01-01", "2030-12-31"))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			}
			if tt.contain != "" {
				assert.ErrorContains(t, err, tt.contain)
			}
		})
	}
}

func TestCSVPanelStore_LoadAssets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.csv")
	require.NoError(t, os.WriteFile(path, []byte(panelCSV), 0o644))

	panel, err := NewCSVPanelStore(path).LoadAssets(context.Background(), query("2023-12-01", "2023-12-31"))
	require.NoError(t, err)
	require.Len(t, panel, 1)
	assert.Equal(t, "A", panel[0].AssetID)

	_, err = NewCSVPanelStore(filepath.Join(t.TempDir(), "missing.csv")).LoadAssets(context.Background(), query("2024-01-01", "2024-12-31"))
	assert.Error(t, err)
}

func TestParseNullable(t *testing.T) {
	for _, raw := range []string{"", " ", "NaN", "null", "NA", "Inf", "-Inf"} {
		v, err := parseNullable(raw)
		require.NoError(t, err, raw)
		assert.Nil(t, v, raw)
	}

	v, err := parseNullable(" -2.5 ")
	require.NoError(t, err)
	assert.Equal(t, -2.5, *v)

	_, err = parseNullable("1,5")
	assert.Error(t, err)
}
