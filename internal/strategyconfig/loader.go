package strategyconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrewhall1124/backtest-test/pkg/config"
)

// Load reads YAML file and returns Config with raw bytes
// SSOT 핵심: KnownFields(true)로 오타/미사용 필드 즉시 실패
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, err
	}
	return cfg, data, nil
}

// Parse decodes and validates a strategy document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 알 수 없는 필드 발견 시 에러 반환
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode strategy: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Hash generates SHA256 hash from Config (canonical JSON)
// 주의: map 대신 struct 사용으로 해시 재현성 보장
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// Apply copies every field the strategy sets onto b
func (c *Config) Apply(b *config.BacktestConfig) error {
	if c.Period.Start != "" {
		t, err := time.Parse(time.DateOnly, c.Period.Start)
		if err != nil {
			return ValidationError{"period.start", err.Error()}
		}
		b.StartDate = t
	}
	if c.Period.End != "" {
		t, err := time.Parse(time.DateOnly, c.Period.End)
		if err != nil {
			return ValidationError{"period.end", err.Error()}
		}
		b.EndDate = t
	}

	setFloat(&b.IC, c.Signal.IC)
	setInt(&b.MomentumWindow, c.Signal.Window)
	setInt(&b.ReportingLag, c.Signal.Lag)
	setFloat(&b.PercentScale, c.Signal.PercentScale)

	setFloat(&b.Gamma, c.Portfolio.Gamma)
	setFloat(&b.NetTarget, c.Portfolio.NetTarget)
	setFloat(&b.MarketVol, c.Portfolio.MarketVol)
	if c.Portfolio.RiskModel != "" {
		b.RiskModel = c.Portfolio.RiskModel
	}
	if c.Portfolio.Constraints != nil {
		b.Constraints = append([]string(nil), c.Portfolio.Constraints...)
	}

	setInt(&b.Workers, c.Driver.Workers)
	setInt(&b.MinAssets, c.Driver.MinAssets)
	setInt(&b.SolverMaxIter, c.Solver.MaxIter)
	setFloat(&b.SolverTolerance, c.Solver.Tolerance)
	return nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
