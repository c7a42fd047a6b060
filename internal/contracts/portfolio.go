package contracts

import (
	"context"
	"time"
)

// WeightRecord is one optimized portfolio weight
// ⭐ SSOT: 백테스트 → 저장소 비중 데이터 전달
type WeightRecord struct {
	AssetID string    `json:"asset_id"`
	Date    time.Time `json:"date"`
	Weight  float64   `json:"weight"`
}

// RunSummary describes one walk-forward run
type RunSummary struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Dates       int       `json:"dates"`
	Solved      int       `json:"solved"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Gamma       float64   `json:"gamma"`
	IC          float64   `json:"ic"`
	Workers     int       `json:"workers"`
	Constraints []string  `json:"constraints"`
}

// WeightWriter persists the final weight table
type WeightWriter interface {
	WriteWeights(ctx context.Context, summary RunSummary, weights []WeightRecord) error
}

// NetExposure sums the weights of one date
func NetExposure(weights []WeightRecord) float64 {
	total := 0.0
	for _, w := range weights {
		total += w.Weight
	}
	return total
}
