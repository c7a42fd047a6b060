package s0_data

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// PanelRepository implements contracts.PanelStore on data.asset_panel
// ⭐ SSOT: 패널 데이터 저장소는 여기서만
type PanelRepository struct {
	pool *pgxpool.Pool
}

// NewPanelRepository creates a new panel repository
func NewPanelRepository(pool *pgxpool.Pool) *PanelRepository {
	return &PanelRepository{pool: pool}
}

// panelColumns maps panel columns to SQL expressions in select order
var panelColumns = []struct {
	name string
	expr string
}{
	{contracts.ColumnPrice, "price"},
	{contracts.ColumnReturn, "return_pct"},
	{contracts.ColumnSpecificRisk, "specific_risk_pct"},
	{contracts.ColumnPredictedBeta, "predicted_beta"},
	{contracts.ColumnSectorID, "sector_id"},
}

// LoadAssets loads panel rows between Start and End (inclusive), ordered by (date, asset_id)
func (r *PanelRepository) LoadAssets(ctx context.Context, q contracts.PanelQuery) ([]contracts.AssetDateRecord, error) {
	if q.End.Before(q.Start) {
		return nil, fmt.Errorf("panel query end %s before start %s",
			q.End.Format("2006-01-02"), q.Start.Format("2006-01-02"))
	}

	selected := []string{"asset_id", "trade_date", "in_universe"}
	wanted := make([]string, 0, len(panelColumns))
	for _, c := range panelColumns {
		if q.Wants(c.name) {
			selected = append(selected, c.expr)
			wanted = append(wanted, c.name)
		}
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM data.asset_panel
		WHERE trade_date BETWEEN $1 AND $2
		  AND ($3 = FALSE OR in_universe)
		ORDER BY trade_date ASC, asset_id ASC
	`, strings.Join(selected, ", "))

	rows, err := r.pool.Query(ctx, query, q.Start, q.End, q.InUniverse)
	if err != nil {
		return nil, fmt.Errorf("query asset panel: %w", err)
	}
	defer rows.Close()

	var panel []contracts.AssetDateRecord
	for rows.Next() {
		var rec contracts.AssetDateRecord
		dest := []interface{}{&rec.AssetID, &rec.Date, &rec.InUniverse}
		for _, name := range wanted {
			dest = append(dest, fieldFor(&rec, name))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan asset panel: %w", err)
		}
		normalize(&rec)
		panel = append(panel, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read asset panel: %w", err)
	}

	if len(panel) == 0 {
		return nil, contracts.ErrEmptyPanel
	}
	return panel, nil
}

// SaveBatch upserts panel rows (used by loaders and tests)
func (r *PanelRepository) SaveBatch(ctx context.Context, panel []contracts.AssetDateRecord) error {
	if len(panel) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.asset_panel (
			asset_id, trade_date, price, return_pct, specific_risk_pct, predicted_beta, sector_id, in_universe
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset_id, trade_date) DO UPDATE SET
			price = EXCLUDED.price,
			return_pct = EXCLUDED.return_pct,
			specific_risk_pct = EXCLUDED.specific_risk_pct,
			predicted_beta = EXCLUDED.predicted_beta,
			sector_id = EXCLUDED.sector_id,
			in_universe = EXCLUDED.in_universe
	`

	batch := &pgx.Batch{}
	for _, rec := range panel {
		batch.Queue(query,
			rec.AssetID, rec.Date, rec.Price, rec.Return, rec.SpecificRisk,
			rec.PredictedBeta, rec.SectorID, rec.InUniverse,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save asset panel: %w", err)
	}
	return nil
}

// EnsureSchema creates the panel table if it does not exist
func (r *PanelRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS data;
		CREATE TABLE IF NOT EXISTS data.asset_panel (
			asset_id          TEXT NOT NULL,
			trade_date        DATE NOT NULL,
			price             DOUBLE PRECISION,
			return_pct        DOUBLE PRECISION,
			specific_risk_pct DOUBLE PRECISION,
			predicted_beta    DOUBLE PRECISION,
			sector_id         BIGINT,
			in_universe       BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (asset_id, trade_date)
		);
		CREATE INDEX IF NOT EXISTS idx_asset_panel_date ON data.asset_panel (trade_date);
	`)
	if err != nil {
		return fmt.Errorf("create asset panel schema: %w", err)
	}
	return nil
}

func fieldFor(rec *contracts.AssetDateRecord, column string) interface{} {
	switch column {
	case contracts.ColumnPrice:
		return &rec.Price
	case contracts.ColumnReturn:
		return &rec.Return
	case contracts.ColumnSpecificRisk:
		return &rec.SpecificRisk
	case contracts.ColumnPredictedBeta:
		return &rec.PredictedBeta
	case contracts.ColumnSectorID:
		return &rec.SectorID
	}
	return nil
}

// normalize turns NaN and Inf into missing values
func normalize(rec *contracts.AssetDateRecord) {
	rec.Price = finiteOrNil(rec.Price)
	rec.Return = finiteOrNil(rec.Return)
	rec.SpecificRisk = finiteOrNil(rec.SpecificRisk)
	rec.PredictedBeta = finiteOrNil(rec.PredictedBeta)
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
