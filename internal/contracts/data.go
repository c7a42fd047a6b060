package contracts

import (
	"context"
	"time"
)

// AssetDateRecord is one row of the historical panel keyed by (asset, date)
// ⭐ SSOT: S0 → S2 패널 데이터 전달
// Return and SpecificRisk are stored in percent. Nil pointers mean missing.
type AssetDateRecord struct {
	AssetID       string    `json:"asset_id"`
	Date          time.Time `json:"date"`
	Price         *float64  `json:"price"`
	Return        *float64  `json:"return"`
	SpecificRisk  *float64  `json:"specific_risk"`
	PredictedBeta *float64  `json:"predicted_beta"`
	SectorID      *int64    `json:"sector_id,omitempty"`
	InUniverse    bool      `json:"in_universe"`
}

// Panel columns understood by every PanelStore
const (
	ColumnDate          = "date"
	ColumnAssetID       = "asset_id"
	ColumnPrice         = "price"
	ColumnReturn        = "return"
	ColumnSpecificRisk  = "specific_risk"
	ColumnPredictedBeta = "predicted_beta"
	ColumnSectorID      = "sector_id" // optional, for sector-neutral runs
)

// DefaultColumns is the column set the momentum backtest needs
var DefaultColumns = []string{
	ColumnDate, ColumnAssetID, ColumnPrice, ColumnReturn, ColumnSpecificRisk, ColumnPredictedBeta,
}

// PanelQuery selects a slice of the panel
type PanelQuery struct {
	Start   time.Time
	End     time.Time
	Columns []string
	// InUniverse restricts rows to universe-eligible assets
	InUniverse bool
}

// Wants reports whether the column was requested. An empty column list means all.
func (q PanelQuery) Wants(column string) bool {
	if len(q.Columns) == 0 {
		return true
	}
	for _, c := range q.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// PanelStore loads the historical panel
// ⭐ SSOT: 패널 로딩 인터페이스
type PanelStore interface {
	LoadAssets(ctx context.Context, q PanelQuery) ([]AssetDateRecord, error)
}

// Float returns a pointer to v (literal helper for nullable fields)
func Float(v float64) *float64 {
	return &v
}
