package s2_signals

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// Config holds the signal pipeline parameters
type Config struct {
	IC           float64 // information coefficient
	Window       int     // rolling log-return window (observations)
	Lag          int     // reporting lag (observations)
	PercentScale float64 // divisor turning percent into fractions
}

// DefaultConfig returns the research defaults
func DefaultConfig() Config {
	return Config{
		IC:           0.05,
		Window:       230,
		Lag:          22,
		PercentScale: 100,
	}
}

// Validate checks the parameters before a run
func (c Config) Validate() error {
	if c.IC <= 0 || c.IC >= 1 {
		return fmt.Errorf("IC must be in (0, 1), got %v", c.IC)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", c.Window)
	}
	if c.Lag < 0 {
		return fmt.Errorf("lag must be non-negative, got %d", c.Lag)
	}
	if c.PercentScale <= 0 {
		return fmt.Errorf("percent scale must be positive, got %v", c.PercentScale)
	}
	return nil
}

// WarmupCalendarDays is the calendar span that holds Window+Lag trading
// observations, plus a week of holidays
func (c Config) WarmupCalendarDays() int {
	return int(math.Ceil(float64(c.Window+c.Lag)*365/252)) + 7
}

// Pipeline computes momentum, score and alpha from the raw panel
// ⭐ SSOT: 모멘텀/스코어/알파 계산은 여기서만
type Pipeline struct {
	config Config
	logger *logger.Logger
}

// NewPipeline creates a new signal pipeline
func NewPipeline(cfg Config, log *logger.Logger) *Pipeline {
	return &Pipeline{
		config: cfg,
		logger: log.Module("s2_signals"),
	}
}

// Compute derives one SignalRecord per panel row, ordered by (asset_id, date)
func (p *Pipeline) Compute(ctx context.Context, panel []contracts.AssetDateRecord) ([]contracts.SignalRecord, error) {
	if err := p.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signal config: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"rows":   len(panel),
		"ic":     p.config.IC,
		"window": p.config.Window,
		"lag":    p.config.Lag,
	}).Info("Computing signals")

	// 1. Convert to fractions and order by (asset_id, date)
	signals := make([]contracts.SignalRecord, len(panel))
	for i, row := range panel {
		signals[i] = contracts.SignalRecord{
			AssetID:       row.AssetID,
			Date:          row.Date,
			Price:         row.Price,
			Return:        scale(row.Return, p.config.PercentScale),
			SpecificRisk:  scale(row.SpecificRisk, p.config.PercentScale),
			PredictedBeta: row.PredictedBeta,
			SectorID:      row.SectorID,
		}
	}
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].AssetID != signals[j].AssetID {
			return signals[i].AssetID < signals[j].AssetID
		}
		return signals[i].Date.Before(signals[j].Date)
	})

	// 2-3. Per-asset lagged rolling momentum
	start := 0
	for start < len(signals) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + 1
		for end < len(signals) && signals[end].AssetID == signals[start].AssetID {
			if signals[end].Date.Equal(signals[end-1].Date) {
				return nil, fmt.Errorf("duplicate panel row for %s on %s",
					signals[end].AssetID, signals[end].Date.Format("2006-01-02"))
			}
			end++
		}
		p.assetMomentum(signals[start:end])
		start = end
	}

	// 4. Cross-sectional score per date
	scored, skipped := CrossSectionalScore(signals)

	// 5. Alpha
	alphas := 0
	for i := range signals {
		s := &signals[i]
		if s.Score == nil || s.SpecificRisk == nil {
			continue
		}
		alpha := p.config.IC * *s.Score * *s.SpecificRisk
		s.Alpha = &alpha
		alphas++
	}

	p.logger.WithFields(map[string]interface{}{
		"rows":          len(signals),
		"scored_dates":  scored,
		"skipped_dates": skipped,
		"alphas":        alphas,
	}).Info("Signals computed")

	return signals, nil
}

// assetMomentum fills Momentum for one asset's date-ordered rows.
// momentum[t] = sum(log1p(r[t-lag-window+1 .. t-lag])), nil if any return in the
// window is missing or not enough history exists.
func (p *Pipeline) assetMomentum(rows []contracts.SignalRecord) {
	n := len(rows)
	window, lag := p.config.Window, p.config.Lag

	// prefix sums of log returns and of missing values
	sums := make([]float64, n+1)
	missing := make([]int, n+1)
	for i, row := range rows {
		lr, ok := logReturn(row.Return)
		sums[i+1] = sums[i]
		missing[i+1] = missing[i]
		if ok {
			sums[i+1] += lr
		} else {
			missing[i+1]++
		}
	}

	for t := range rows {
		end := t - lag // inclusive window end
		begin := end - window + 1
		if begin < 0 {
			continue
		}
		if missing[end+1]-missing[begin] > 0 {
			continue
		}
		m := sums[end+1] - sums[begin]
		rows[t].Momentum = &m
	}
}

// logReturn returns log1p(r); an undefined log (r <= -1) counts as missing
func logReturn(r *float64) (float64, bool) {
	if r == nil {
		return 0, false
	}
	lr := math.Log1p(*r)
	if math.IsNaN(lr) || math.IsInf(lr, 0) {
		return 0, false
	}
	return lr, true
}

func scale(v *float64, by float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v / by
	return &out
}
