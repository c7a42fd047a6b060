package risk

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Engine 리스크 엔진 (순수 계산기)
// ⭐ SSOT: 수익률 시계열 조립은 상위 레이어(backtest.Evaluate)에서
type Engine struct {
	config MonteCarloConfig
}

// NewEngine validates config and returns an engine
func NewEngine(config MonteCarloConfig) (*Engine, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

// Report computes historical and parametric VaR for every confidence level and,
// when the series is long enough, a bootstrap Monte Carlo.
// A short series is a warning, not an error.
func (e *Engine) Report(ctx context.Context, returns []float64) (*Report, error) {
	report := &Report{
		Samples:    len(returns),
		Historical: make([]VaRResult, 0, len(e.config.ConfidenceLevels)),
		Parametric: make([]VaRResult, 0, len(e.config.ConfidenceLevels)),
	}
	if len(returns) == 0 {
		report.Warnings = append(report.Warnings, "no realized returns")
		return report, nil
	}

	mean, std := stat.MeanStdDev(returns, nil)
	if len(returns) < 2 {
		std = 0
	}
	for _, c := range e.config.ConfidenceLevels {
		report.Historical = append(report.Historical, CalculateVaR(returns, c))
		report.Parametric = append(report.Parametric, CalculateParametricVaR(mean, std, c))
	}

	if e.config.NumSimulations == 0 {
		return report, nil
	}
	mc, err := e.MonteCarlo(ctx, returns)
	switch {
	case errors.Is(err, ErrInsufficientData):
		report.Warnings = append(report.Warnings, err.Error())
	case err != nil:
		return nil, err
	default:
		report.MonteCarlo = mc
	}
	return report, nil
}

// MonteCarlo 포트폴리오 Monte Carlo 시뮬레이션
func (e *Engine) MonteCarlo(ctx context.Context, returns []float64) (*MonteCarloResult, error) {
	// Fail-closed: 최소 샘플 수 체크
	if len(returns) < e.config.MinSamples {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientData, len(returns), e.config.MinSamples)
	}
	return NewMonteCarloSimulator(e.config).Simulate(ctx, returns)
}

// ValidateConfig 설정 유효성 검사
func ValidateConfig(config MonteCarloConfig) error {
	if config.NumSimulations < 0 {
		return fmt.Errorf("%w: NumSimulations must be >= 0", ErrInvalidConfig)
	}
	if config.HoldingPeriod <= 0 {
		return fmt.Errorf("%w: HoldingPeriod must be > 0", ErrInvalidConfig)
	}
	if config.MinSamples <= 0 {
		return fmt.Errorf("%w: MinSamples must be > 0", ErrInvalidConfig)
	}
	if len(config.ConfidenceLevels) == 0 {
		return fmt.Errorf("%w: ConfidenceLevels cannot be empty", ErrInvalidConfig)
	}
	for _, cl := range config.ConfidenceLevels {
		if cl <= 0 || cl >= 1 {
			return fmt.Errorf("%w: ConfidenceLevel must be between 0 and 1", ErrInvalidConfig)
		}
	}
	return nil
}
