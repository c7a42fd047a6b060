package strategyconfig

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var versionPattern = regexp.MustCompile(`^v?\d+\.\d+(\.\d+)?$`)

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}
	if cfg.Meta.Version != "" && !versionPattern.MatchString(cfg.Meta.Version) {
		return ValidationError{"meta.version", fmt.Sprintf("invalid version %q (e.g. v1.2.0)", cfg.Meta.Version)}
	}

	// === Period ===
	start, err := parseDate(cfg.Period.Start)
	if err != nil {
		return ValidationError{"period.start", err.Error()}
	}
	end, err := parseDate(cfg.Period.End)
	if err != nil {
		return ValidationError{"period.end", err.Error()}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return ValidationError{"period", "end must not be before start"}
	}

	// === Signal ===
	if v := cfg.Signal.IC; v != nil && (*v <= 0 || *v >= 1) {
		return ValidationError{"signal.ic", "must be in (0, 1)"}
	}
	if v := cfg.Signal.Window; v != nil && *v <= 0 {
		return ValidationError{"signal.window", "must be > 0"}
	}
	if v := cfg.Signal.Lag; v != nil && *v < 0 {
		return ValidationError{"signal.lag", "must be >= 0"}
	}
	if v := cfg.Signal.PercentScale; v != nil && *v <= 0 {
		return ValidationError{"signal.percent_scale", "must be > 0"}
	}

	// === Portfolio ===
	if v := cfg.Portfolio.Gamma; v != nil && *v <= 0 {
		return ValidationError{"portfolio.gamma", "must be > 0"}
	}
	if v := cfg.Portfolio.MarketVol; v != nil && *v <= 0 {
		return ValidationError{"portfolio.market_vol", "must be > 0"}
	}
	for i, c := range cfg.Portfolio.Constraints {
		if strings.TrimSpace(c) == "" {
			return ValidationError{fmt.Sprintf("portfolio.constraints[%d]", i), "empty entry"}
		}
	}

	// === Driver / Solver ===
	if v := cfg.Driver.Workers; v != nil && *v < 0 {
		return ValidationError{"driver.workers", "must be >= 0"}
	}
	if v := cfg.Driver.MinAssets; v != nil && *v < 1 {
		return ValidationError{"driver.min_assets", "must be >= 1"}
	}
	if v := cfg.Solver.MaxIter; v != nil && *v <= 0 {
		return ValidationError{"solver.max_iter", "must be > 0"}
	}
	if v := cfg.Solver.Tolerance; v != nil && *v <= 0 {
		return ValidationError{"solver.tolerance", "must be > 0"}
	}

	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
