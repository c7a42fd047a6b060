package portfolio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/testutil"
)

func sampleWeights() []contracts.WeightRecord {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	return []contracts.WeightRecord{
		{AssetID: "A", Date: d1, Weight: -0.02},
		{AssetID: "B", Date: d1, Weight: 0.02},
		{AssetID: "A", Date: d2, Weight: 0.01},
		{AssetID: "B", Date: d2, Weight: -0.01},
	}
}

func TestParquetWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "weights.parquet")

	require.NoError(t, NewParquetWriter(path).WriteWeights(context.Background(), contracts.RunSummary{}, sampleWeights()))

	got, err := ReadParquetWeights(path)
	require.NoError(t, err)
	assert.Equal(t, sampleWeights(), got)
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.csv")

	require.NoError(t, NewCSVWriter(path).WriteWeights(context.Background(), contracts.RunSummary{}, sampleWeights()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "asset_id,date,weight", lines[0])
	assert.Equal(t, "A,2024-01-02,-0.02", lines[1])
}

func TestNewFileWriter(t *testing.T) {
	w, err := NewFileWriter("PARQUET", "w.parquet")
	require.NoError(t, err)
	assert.IsType(t, &ParquetWriter{}, w)

	w, err = NewFileWriter("csv", "w.csv")
	require.NoError(t, err)
	assert.IsType(t, &CSVWriter{}, w)

	_, err = NewFileWriter("xlsx", "w.xlsx")
	assert.Error(t, err)
}

func TestWriters_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	assert.ErrorIs(t, NewParquetWriter(filepath.Join(dir, "w.parquet")).WriteWeights(ctx, contracts.RunSummary{}, nil), context.Canceled)
	assert.ErrorIs(t, NewCSVWriter(filepath.Join(dir, "w.csv")).WriteWeights(ctx, contracts.RunSummary{}, nil), context.Canceled)
}

func TestRepository_RunLifecycle(t *testing.T) {
	db := testutil.StartPostgres(t)
	ctx := context.Background()

	repo := NewRepository(db.Pool)
	require.NoError(t, repo.EnsureSchema(ctx))

	started := time.Now().UTC().Truncate(time.Millisecond)
	summary := contracts.RunSummary{
		RunID:       uuid.NewString(),
		StartedAt:   started,
		FinishedAt:  started.Add(time.Second),
		StartDate:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		Dates:       2,
		Solved:      2,
		Gamma:       2,
		IC:          0.05,
		Workers:     4,
		Constraints: []string{"zero_beta"},
	}
	require.NoError(t, repo.WriteWeights(ctx, summary, sampleWeights()))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, []string{"zero_beta"}, runs[0].Constraints)

	all, err := repo.GetWeights(ctx, summary.RunID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	day := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	one, err := repo.GetWeights(ctx, summary.RunID, &day)
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.Equal(t, "A", one[0].AssetID)
	assert.Equal(t, 0.01, one[0].Weight)

	_, err = repo.GetRun(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, repo.DeleteRun(ctx, summary.RunID))
	assert.ErrorIs(t, repo.DeleteRun(ctx, summary.RunID), ErrRunNotFound)

	assert.Error(t, repo.WriteWeights(ctx, contracts.RunSummary{RunID: "not-a-uuid"}, nil))
}
