package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CalculateVaR 과거 수익률 기반 VaR 계산 (Historical Simulation)
// returns: 기간별 수익률 (양수=이익, 음수=손실)
// 반환값: VaR는 손실을 양수로 표현
func CalculateVaR(returns []float64, confidence float64) VaRResult {
	if len(returns) == 0 {
		return VaRResult{Confidence: confidence}
	}

	// 오름차순: 손실이 앞에
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	// 95% VaR = 하위 5% 백분위수
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return VaRResult{
		Confidence: confidence,
		VaR:        lossOf(sorted[idx]),
		CVaR:       CalculateCVaR(sorted, idx),
	}
}

// CalculateCVaR Conditional VaR (Expected Shortfall)
// sorted: 오름차순 정렬된 수익률, varIdx 이하가 tail
func CalculateCVaR(sorted []float64, varIdx int) float64 {
	if len(sorted) == 0 || varIdx < 0 {
		return 0
	}
	if varIdx >= len(sorted) {
		varIdx = len(sorted) - 1
	}
	return lossOf(stat.Mean(sorted[:varIdx+1], nil))
}

// CalculateParametricVaR 정규분포 가정 VaR 계산
func CalculateParametricVaR(mean, stdDev, confidence float64) VaRResult {
	z := distuv.UnitNormal.Quantile(confidence)

	// Expected shortfall of a normal: σ·φ(z)/(1−c) − μ
	return VaRResult{
		Confidence: confidence,
		VaR:        math.Max(0, z*stdDev-mean),
		CVaR:       math.Max(0, stdDev*distuv.UnitNormal.Prob(z)/(1-confidence)-mean),
	}
}

// CalculatePercentiles returns linearly interpolated percentiles keyed by percent
func CalculatePercentiles(values []float64, percents []int) map[int]float64 {
	out := make(map[int]float64, len(percents))
	if len(values) == 0 {
		return out
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	for _, p := range percents {
		out[p] = stat.Quantile(float64(p)/100, stat.LinInterp, sorted, nil)
	}
	return out
}

func lossOf(r float64) float64 {
	if r < 0 {
		return -r
	}
	return 0
}
