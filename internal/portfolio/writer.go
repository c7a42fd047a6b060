package portfolio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/parquet-go/parquet-go"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// weightParquetRow is the on-disk weight schema: asset_id string, date DATE, weight DOUBLE
type weightParquetRow struct {
	AssetID string  `parquet:"asset_id"`
	Date    int32   `parquet:"date,date"`
	Weight  float64 `parquet:"weight"`
}

// ParquetWriter writes the weight table to a parquet file
type ParquetWriter struct {
	path string
}

// NewParquetWriter creates a writer for path
func NewParquetWriter(path string) *ParquetWriter {
	return &ParquetWriter{path: path}
}

// WriteWeights replaces the file with the run's weights
func (w *ParquetWriter) WriteWeights(ctx context.Context, _ contracts.RunSummary, weights []contracts.WeightRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]weightParquetRow, len(weights))
	for i, wr := range weights {
		rows[i] = weightParquetRow{
			AssetID: wr.AssetID,
			Date:    daysSinceEpoch(wr.Date),
			Weight:  wr.Weight,
		}
	}
	if err := ensureDir(w.path); err != nil {
		return err
	}
	if err := parquet.WriteFile(w.path, rows); err != nil {
		return fmt.Errorf("write parquet %s: %w", w.path, err)
	}
	return nil
}

// ReadParquetWeights loads a weight table written by ParquetWriter
func ReadParquetWeights(path string) ([]contracts.WeightRecord, error) {
	rows, err := parquet.ReadFile[weightParquetRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	out := make([]contracts.WeightRecord, len(rows))
	for i, r := range rows {
		out[i] = contracts.WeightRecord{
			AssetID: r.AssetID,
			Date:    epoch.AddDate(0, 0, int(r.Date)),
			Weight:  r.Weight,
		}
	}
	return out, nil
}

type weightCSVRow struct {
	AssetID string  `csv:"asset_id"`
	Date    string  `csv:"date"`
	Weight  float64 `csv:"weight"`
}

// CSVWriter writes the weight table to a CSV file
type CSVWriter struct {
	path string
}

// NewCSVWriter creates a writer for path
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

// WriteWeights replaces the file with the run's weights
func (w *CSVWriter) WriteWeights(ctx context.Context, _ contracts.RunSummary, weights []contracts.WeightRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]*weightCSVRow, len(weights))
	for i, wr := range weights {
		rows[i] = &weightCSVRow{AssetID: wr.AssetID, Date: wr.Date.Format(time.DateOnly), Weight: wr.Weight}
	}

	if err := ensureDir(w.path); err != nil {
		return err
	}
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("write csv %s: %w", w.path, err)
	}
	return f.Close()
}

// NewFileWriter picks a file writer by format ("parquet" or "csv")
func NewFileWriter(format, path string) (contracts.WeightWriter, error) {
	switch strings.ToLower(format) {
	case "parquet":
		return NewParquetWriter(path), nil
	case "csv":
		return NewCSVWriter(path), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func daysSinceEpoch(t time.Time) int32 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int32(d.Sub(epoch).Hours() / 24)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
