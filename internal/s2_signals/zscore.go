package s2_signals

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// CrossSectionalScore sets Score to the per-date z-score of Momentum.
// Mean and population standard deviation are taken over the non-nil momenta of
// each date. A date with fewer than two values or zero dispersion gets nil scores.
// Returns the number of scored and skipped dates.
func CrossSectionalScore(signals []contracts.SignalRecord) (scored, skipped int) {
	byDate := make(map[string][]int)
	dates := make([]string, 0)
	for i := range signals {
		d := DateKey(signals[i].Date)
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
		byDate[d] = append(byDate[d], i)
	}

	for _, d := range dates {
		idx := byDate[d]

		momenta := make([]*float64, len(idx))
		for k, i := range idx {
			momenta[k] = signals[i].Momentum
		}
		scores, ok := zscore(momenta)
		for k, i := range idx {
			signals[i].Score = scores[k]
		}
		if !ok {
			skipped++
			continue
		}
		scored++
	}

	return scored, skipped
}

// zscore standardizes a nullable cross-section. Nil in, nil out; every
// output is nil when the values have no usable dispersion.
func zscore(values []*float64) ([]*float64, bool) {
	dataset := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			dataset = append(dataset, *v)
		}
	}

	out := make([]*float64, len(values))
	mean, stdev, ok := meanStdev(dataset)
	if !ok {
		return out, false
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		z := (*v - mean) / stdev
		out[i] = &z
	}
	return out, true
}

// DateKey identifies a calendar date regardless of location or clock reading
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func meanStdev(dataset []float64) (float64, float64, bool) {
	if len(dataset) < 2 {
		return 0, 0, false
	}
	mean, err := stats.Mean(dataset)
	if err != nil {
		return 0, 0, false
	}
	stdev, err := stats.StandardDeviationPopulation(dataset)
	// rounding leaves a tiny stdev on constant inputs
	if err != nil || stdev <= 1e-12*math.Max(1, math.Abs(mean)) {
		return 0, 0, false
	}
	return mean, stdev, true
}
