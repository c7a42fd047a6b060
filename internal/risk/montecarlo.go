package risk

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// MonteCarloSimulator bootstraps holding-period returns from a return series
type MonteCarloSimulator struct {
	config MonteCarloConfig
	rng    *rand.Rand
}

// NewMonteCarloSimulator 새 시뮬레이터 생성
func NewMonteCarloSimulator(config MonteCarloConfig) *MonteCarloSimulator {
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &MonteCarloSimulator{
		config: config,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Simulate resamples returns with replacement and compounds HoldingPeriod draws per path
func (mc *MonteCarloSimulator) Simulate(ctx context.Context, returns []float64) (*MonteCarloResult, error) {
	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: empty return series", ErrInsufficientData)
	}

	paths := make([]float64, mc.config.NumSimulations)
	for i := range paths {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cum := 1.0
		for d := 0; d < mc.config.HoldingPeriod; d++ {
			cum *= 1 + returns[mc.rng.IntN(len(returns))]
		}
		paths[i] = cum - 1
	}

	result := mc.calculateResult(paths)
	result.InputSampleCount = len(returns)
	return result, nil
}

// calculateResult 시뮬레이션 결과 통계 계산
func (mc *MonteCarloSimulator) calculateResult(paths []float64) *MonteCarloResult {
	mean, std := stat.MeanStdDev(paths, nil)

	levels := make(map[float64]VaRResult, len(mc.config.ConfidenceLevels))
	for _, c := range mc.config.ConfidenceLevels {
		levels[c] = CalculateVaR(paths, c)
	}

	losses := 0
	for _, p := range paths {
		if p < 0 {
			losses++
		}
	}

	return &MonteCarloResult{
		RunID:       uuid.New().String(),
		Config:      mc.config,
		MeanReturn:  mean,
		StdDev:      std,
		Levels:      levels,
		Percentiles: CalculatePercentiles(paths, []int{1, 5, 25, 50, 75, 95, 99}),
		ProbLoss:    float64(losses) / float64(len(paths)),
	}
}
