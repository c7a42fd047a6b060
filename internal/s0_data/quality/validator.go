package quality

import (
	"fmt"
	"sort"
	"time"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// Gate validates panel coverage before signals are computed
type Gate struct {
	config Config
}

// Config holds quality gate thresholds
type Config struct {
	MinReturnCoverage float64 // 0.90
	MinRiskCoverage   float64 // 0.90
	MinBetaCoverage   float64 // 0.90
}

// DefaultConfig returns the research thresholds
func DefaultConfig() Config {
	return Config{
		MinReturnCoverage: 0.90,
		MinRiskCoverage:   0.90,
		MinBetaCoverage:   0.90,
	}
}

// Snapshot is the coverage report of one loaded panel
type Snapshot struct {
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	Rows         int                `json:"rows"`
	Assets       int                `json:"assets"`
	Dates        int                `json:"dates"`
	Coverage     map[string]float64 `json:"coverage"`
	QualityScore float64            `json:"quality_score"`
	Passed       bool               `json:"passed"`
	Violations   []string           `json:"violations,omitempty"`
}

// NewGate creates a new Gate instance
func NewGate(config Config) *Gate {
	return &Gate{config: config}
}

// Check computes per-column coverage of the panel
// ⭐ SSOT: S0 → S2 품질 검증
func (g *Gate) Check(panel []contracts.AssetDateRecord) *Snapshot {
	snapshot := &Snapshot{
		Rows:     len(panel),
		Coverage: make(map[string]float64),
	}
	if len(panel) == 0 {
		snapshot.Violations = []string{"panel is empty"}
		return snapshot
	}

	// 1. 범위 / 종목 수 / 날짜 수
	assets := make(map[string]struct{})
	dates := make(map[string]struct{})
	counts := make(map[string]int)
	snapshot.Start, snapshot.End = panel[0].Date, panel[0].Date
	for _, row := range panel {
		assets[row.AssetID] = struct{}{}
		dates[row.Date.Format(time.DateOnly)] = struct{}{}
		if row.Date.Before(snapshot.Start) {
			snapshot.Start = row.Date
		}
		if row.Date.After(snapshot.End) {
			snapshot.End = row.Date
		}

		if row.Price != nil {
			counts[contracts.ColumnPrice]++
		}
		if row.Return != nil {
			counts[contracts.ColumnReturn]++
		}
		if row.SpecificRisk != nil {
			counts[contracts.ColumnSpecificRisk]++
		}
		if row.PredictedBeta != nil {
			counts[contracts.ColumnPredictedBeta]++
		}
		if row.SectorID != nil {
			counts[contracts.ColumnSectorID]++
		}
	}
	snapshot.Assets = len(assets)
	snapshot.Dates = len(dates)

	// 2. 커버리지
	for column, n := range counts {
		snapshot.Coverage[column] = float64(n) / float64(len(panel))
	}

	// 3. 품질 점수 계산
	snapshot.QualityScore = g.calculateScore(snapshot.Coverage)

	thresholds := map[string]float64{
		contracts.ColumnReturn:        g.config.MinReturnCoverage,
		contracts.ColumnSpecificRisk:  g.config.MinRiskCoverage,
		contracts.ColumnPredictedBeta: g.config.MinBetaCoverage,
	}
	columns := make([]string, 0, len(thresholds))
	for column := range thresholds {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		if cov := snapshot.Coverage[column]; cov < thresholds[column] {
			snapshot.Violations = append(snapshot.Violations,
				fmt.Sprintf("%s coverage %.1f%% below %.1f%%", column, cov*100, thresholds[column]*100))
		}
	}
	snapshot.Passed = len(snapshot.Violations) == 0

	return snapshot
}

// calculateScore calculates overall quality score using weighted average
func (g *Gate) calculateScore(coverage map[string]float64) float64 {
	// 가중치 (합계 = 1.0)
	weights := map[string]float64{
		contracts.ColumnReturn:        0.40, // 모멘텀 입력
		contracts.ColumnSpecificRisk:  0.30, // 알파 + 리스크
		contracts.ColumnPredictedBeta: 0.30, // 베타 중립
	}

	score := 0.0
	for key, weight := range weights {
		score += coverage[key] * weight
	}

	return score
}
