package risk

import "errors"

// VaRConvention VaR 부호 규약
// ⭐ SSOT: Loss를 양수로 표현 (VaR=0.05 → 5% 손실 가능)
const VaRConvention = "loss_positive"

var (
	ErrInsufficientData = errors.New("insufficient data for simulation")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// VaRResult VaR 계산 결과
// ⭐ SSOT: VaR/CVaR는 손실을 양수로 표현
// - VaR=0.05 → 95% 신뢰수준에서 최대 5% 손실 가능
// - CVaR=0.07 → 5% tail에서 평균 7% 손실 예상
type VaRResult struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"`
}

// MonteCarloConfig configures the bootstrap of per-period backtest returns
// ⭐ SSOT: 재현성을 위해 Seed를 명시적으로 기록
type MonteCarloConfig struct {
	NumSimulations   int       `json:"num_simulations"`   // 0 disables the simulation
	HoldingPeriod    int       `json:"holding_period"`    // periods compounded per path
	ConfidenceLevels []float64 `json:"confidence_levels"` // e.g. [0.95, 0.99]
	Seed             uint64    `json:"seed"`              // 0 = time based
	MinSamples       int       `json:"min_samples"`       // fail-closed below this many periods
}

// DefaultMonteCarloConfig 기본 Monte Carlo 설정
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		NumSimulations:   10000,
		HoldingPeriod:    5,
		ConfidenceLevels: []float64{0.95, 0.99},
		MinSamples:       20,
	}
}

// MonteCarloResult Monte Carlo 시뮬레이션 결과
type MonteCarloResult struct {
	RunID            string                `json:"run_id"`
	Config           MonteCarloConfig      `json:"config"`
	InputSampleCount int                   `json:"input_sample_count"`
	MeanReturn       float64               `json:"mean_return"`
	StdDev           float64               `json:"std_dev"`
	Levels           map[float64]VaRResult `json:"-"`
	Percentiles      map[int]float64       `json:"percentiles"` // 1, 5, 25, 50, 75, 95, 99
	ProbLoss         float64               `json:"prob_loss"`   // share of paths ending below zero
}

// Report is the tail-risk summary of a backtest's realized period returns
type Report struct {
	Samples    int               `json:"samples"`
	Historical []VaRResult       `json:"historical"`
	Parametric []VaRResult       `json:"parametric"`
	MonteCarlo *MonteCarloResult `json:"monte_carlo,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// At returns the historical result for a confidence level
func (r *Report) At(confidence float64) (VaRResult, bool) {
	for _, v := range r.Historical {
		if v.Confidence == confidence {
			return v, true
		}
	}
	return VaRResult{}, false
}
