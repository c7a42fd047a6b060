package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

const tradingDaysPerYear = 252

// PeriodReturn is the realized return of one date's weights over the next observation
type PeriodReturn struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
	Gross  float64   `json:"gross"` // sum of |w|
	Equity float64   `json:"equity"`
}

// Performance summarizes the realized path of a weight table
type Performance struct {
	Periods          []PeriodReturn `json:"periods"`
	TotalReturn      float64        `json:"total_return"`
	AnnualizedReturn float64        `json:"annualized_return"`
	Volatility       float64        `json:"volatility"`
	SharpeRatio      float64        `json:"sharpe_ratio"`
	SortinoRatio     float64        `json:"sortino_ratio"`
	MaxDrawdown      float64        `json:"max_drawdown"`
	AverageGross     float64        `json:"average_gross"`
	MissingReturns   int            `json:"missing_returns"`
}

// Evaluate holds each date's weights until the asset's next observation and
// compounds the resulting portfolio returns. Returns must be fractions.
// A weight whose asset has no later return contributes nothing and is counted.
func Evaluate(weights []contracts.WeightRecord, signals []contracts.SignalRecord) *Performance {
	next := forwardReturns(signals)
	perf := &Performance{Periods: make([]PeriodReturn, 0)}

	index := make(map[string]int)
	for _, w := range weights {
		key := w.Date.Format(time.DateOnly)
		i, ok := index[key]
		if !ok {
			i = len(perf.Periods)
			index[key] = i
			perf.Periods = append(perf.Periods, PeriodReturn{Date: w.Date})
		}
		perf.Periods[i].Gross += math.Abs(w.Weight)

		r, ok := next[w.AssetID+"|"+key]
		if !ok {
			perf.MissingReturns++
			continue
		}
		perf.Periods[i].Return += w.Weight * r
	}

	sort.SliceStable(perf.Periods, func(i, j int) bool {
		return perf.Periods[i].Date.Before(perf.Periods[j].Date)
	})

	perf.calculateMetrics()
	return perf
}

// forwardReturns maps asset|date to the asset's next observed return
func forwardReturns(signals []contracts.SignalRecord) map[string]float64 {
	byAsset := make(map[string][]contracts.SignalRecord)
	for _, s := range signals {
		byAsset[s.AssetID] = append(byAsset[s.AssetID], s)
	}

	next := make(map[string]float64, len(signals))
	for asset, rows := range byAsset {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
		for i := 0; i+1 < len(rows); i++ {
			if r := rows[i+1].Return; r != nil {
				next[asset+"|"+rows[i].Date.Format(time.DateOnly)] = *r
			}
		}
	}
	return next
}

// Returns is the per-period return series in date order
func (p *Performance) Returns() []float64 {
	out := make([]float64, len(p.Periods))
	for i, period := range p.Periods {
		out[i] = period.Return
	}
	return out
}

func (p *Performance) calculateMetrics() {
	if len(p.Periods) == 0 {
		return
	}

	returns := make([]float64, len(p.Periods))
	downside := make([]float64, 0)
	equity, peak, gross := 1.0, 1.0, 0.0
	for i := range p.Periods {
		r := p.Periods[i].Return
		returns[i] = r
		if r < 0 {
			downside = append(downside, r)
		}
		gross += p.Periods[i].Gross

		equity *= 1 + r
		p.Periods[i].Equity = equity
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > p.MaxDrawdown {
			p.MaxDrawdown = dd
		}
	}

	n := float64(len(returns))
	p.TotalReturn = equity - 1
	p.AverageGross = gross / n
	if equity > 0 {
		p.AnnualizedReturn = math.Pow(equity, tradingDaysPerYear/n) - 1
	}

	// Volatility (annualized)
	if sd, err := stats.StandardDeviationPopulation(returns); err == nil {
		p.Volatility = sd * math.Sqrt(tradingDaysPerYear)
	}
	if p.Volatility > 0 {
		p.SharpeRatio = p.AnnualizedReturn / p.Volatility
	}

	// Sortino Ratio (downside deviation)
	if dsd, err := stats.StandardDeviationPopulation(downside); err == nil && dsd > 0 {
		p.SortinoRatio = p.AnnualizedReturn / (dsd * math.Sqrt(tradingDaysPerYear))
	}
}
