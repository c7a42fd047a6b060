package s0_data

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// panelCSVRow is one line of a panel CSV export. Numeric fields are strings so
// blanks and "NaN" load as missing values.
type panelCSVRow struct {
	Date          string `csv:"date"`
	AssetID       string `csv:"asset_id"`
	Price         string `csv:"price"`
	Return        string `csv:"return"`
	SpecificRisk  string `csv:"specific_risk"`
	PredictedBeta string `csv:"predicted_beta"`
	SectorID      string `csv:"sector_id"`
	InUniverse    string `csv:"in_universe"`
}

// CSVPanelStore implements contracts.PanelStore on a CSV file
type CSVPanelStore struct {
	path string
}

// NewCSVPanelStore creates a store reading the given file on every load
func NewCSVPanelStore(path string) *CSVPanelStore {
	return &CSVPanelStore{path: path}
}

// LoadAssets reads the file and applies the query in memory
func (s *CSVPanelStore) LoadAssets(ctx context.Context, q contracts.PanelQuery) ([]contracts.AssetDateRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open panel csv: %w", err)
	}
	defer f.Close()

	return ReadPanelCSV(ctx, f, q)
}

// ReadPanelCSV parses panel rows from r, keeping those the query selects
func ReadPanelCSV(ctx context.Context, r io.Reader, q contracts.PanelQuery) ([]contracts.AssetDateRecord, error) {
	var rows []panelCSVRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse panel csv: %w", err)
	}

	panel := make([]contracts.AssetDateRecord, 0, len(rows))
	for i, row := range rows {
		if i%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec, err := row.record(q)
		if err != nil {
			return nil, fmt.Errorf("panel csv line %d: %w", i+2, err)
		}
		if rec.Date.Before(q.Start) || rec.Date.After(q.End) {
			continue
		}
		if q.InUniverse && !rec.InUniverse {
			continue
		}
		panel = append(panel, rec)
	}

	if len(panel) == 0 {
		return nil, contracts.ErrEmptyPanel
	}

	sort.SliceStable(panel, func(i, j int) bool {
		if !panel[i].Date.Equal(panel[j].Date) {
			return panel[i].Date.Before(panel[j].Date)
		}
		return panel[i].AssetID < panel[j].AssetID
	})
	return panel, nil
}

func (row panelCSVRow) record(q contracts.PanelQuery) (contracts.AssetDateRecord, error) {
	var rec contracts.AssetDateRecord

	date, err := time.Parse(time.DateOnly, strings.TrimSpace(row.Date))
	if err != nil {
		return rec, fmt.Errorf("invalid date %q: %w", row.Date, err)
	}
	rec.Date = date

	rec.AssetID = strings.TrimSpace(row.AssetID)
	if rec.AssetID == "" {
		return rec, fmt.Errorf("missing asset_id")
	}

	fields := []struct {
		column string
		raw    string
		dst    **float64
	}{
		{contracts.ColumnPrice, row.Price, &rec.Price},
		{contracts.ColumnReturn, row.Return, &rec.Return},
		{contracts.ColumnSpecificRisk, row.SpecificRisk, &rec.SpecificRisk},
		{contracts.ColumnPredictedBeta, row.PredictedBeta, &rec.PredictedBeta},
	}
	for _, f := range fields {
		if !q.Wants(f.column) {
			continue
		}
		v, err := parseNullable(f.raw)
		if err != nil {
			return rec, fmt.Errorf("invalid %s %q: %w", f.column, f.raw, err)
		}
		*f.dst = v
	}

	if q.Wants(contracts.ColumnSectorID) && strings.TrimSpace(row.SectorID) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(row.SectorID), 10, 64)
		if err != nil {
			return rec, fmt.Errorf("invalid sector_id %q: %w", row.SectorID, err)
		}
		rec.SectorID = &id
	}

	rec.InUniverse = true
	if raw := strings.TrimSpace(row.InUniverse); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return rec, fmt.Errorf("invalid in_universe %q: %w", row.InUniverse, err)
		}
		rec.InUniverse = b
	}
	return rec, nil
}

// parseNullable reads a float; blank, NaN, null and Inf are missing
func parseNullable(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "null", "na", "nan":
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return finiteOrNil(&v), nil
}
