package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// API
	API APIConfig

	// Backtest
	Backtest BacktestConfig

	// Scheduler
	Scheduler SchedulerConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// APIConfig holds the read API settings
type APIConfig struct {
	CacheTTL        time.Duration // TTL for cached runs and weights
	RateLimit       int           // requests per RateLimitWindow per client, 0 disables
	RateLimitWindow time.Duration
}

// BacktestConfig holds the tunables of the signal pipeline, optimizer and driver.
// Every value can be overridden from the CLI without touching optimization code.
type BacktestConfig struct {
	StartDate time.Time
	EndDate   time.Time

	// Signal
	IC             float64 // information coefficient, (0, 1)
	MomentumWindow int     // trailing log-return observations
	ReportingLag   int     // observations between window end and usage date
	PercentScale   float64 // raw return/specific_risk are stored in percent
	Warmup         bool    // load Window+Lag of history before StartDate

	// Optimizer
	Gamma           float64 // risk aversion, > 0
	NetTarget       float64 // sum of weights per date
	RiskModel       string  // diagonal, single_factor, covariance
	MarketVol       float64 // factor volatility for single_factor
	CovariancePath  string  // asset_i,asset_j,covariance csv for covariance
	Constraints     []string
	SolverMaxIter   int
	SolverTolerance float64

	// Driver
	Workers   int
	MinAssets int

	// Tail risk of the realized returns
	RiskSimulations   int // Monte Carlo paths, 0 disables the simulation
	RiskHoldingPeriod int // observations compounded per path
	RiskSeed          uint64

	// I/O
	PanelSource  string  // postgres, csv
	PanelCSVPath string  // local path or http(s) URL
	PanelRPS     float64 // request rate for remote panel downloads
	InUniverse   bool
	OutputFormat string // parquet, csv, postgres
	OutputPath   string
}

// SchedulerConfig holds the cron settings for recurring runs
type SchedulerConfig struct {
	BacktestSchedule  string
	LookbackDays      int
	RetentionSchedule string
	RetentionDays     int // 0 keeps every run
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()
	return fromEnv()
}

// LoadFile reads an explicit env file before the environment. A missing file is an error.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("load env file %s: %w", path, err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		API: APIConfig{
			CacheTTL:        getEnvAsDuration("API_CACHE_TTL", "1h"),
			RateLimit:       getEnvAsInt("API_RATE_LIMIT", 60),
			RateLimitWindow: getEnvAsDuration("API_RATE_LIMIT_WINDOW", "1m"),
		},

		Backtest: BacktestConfig{
			StartDate:         getEnvAsDate("BACKTEST_START", "2024-01-01"),
			EndDate:           getEnvAsDate("BACKTEST_END", "2024-12-31"),
			IC:                getEnvAsFloat("IC", 0.05),
			MomentumWindow:    getEnvAsInt("MOMENTUM_WINDOW", 230),
			ReportingLag:      getEnvAsInt("REPORTING_LAG", 22),
			PercentScale:      getEnvAsFloat("PERCENT_SCALE", 100),
			Warmup:            getEnvAsBool("WARMUP", true),
			Gamma:             getEnvAsFloat("GAMMA", 2),
			NetTarget:         getEnvAsFloat("NET_TARGET", 0),
			RiskModel:         getEnv("RISK_MODEL", "diagonal"),
			MarketVol:         getEnvAsFloat("MARKET_VOL", 0.16),
			CovariancePath:    getEnv("COVARIANCE_CSV", ""),
			Constraints:       getEnvAsList("CONSTRAINTS", "zero_beta"),
			SolverMaxIter:     getEnvAsInt("SOLVER_MAX_ITER", 500),
			SolverTolerance:   getEnvAsFloat("SOLVER_TOLERANCE", 1e-9),
			Workers:           getEnvAsInt("WORKERS", 0),
			MinAssets:         getEnvAsInt("MIN_ASSETS", 2),
			RiskSimulations:   getEnvAsInt("RISK_SIMULATIONS", 10000),
			RiskHoldingPeriod: getEnvAsInt("RISK_HOLDING_PERIOD", 5),
			RiskSeed:          uint64(getEnvAsInt("RISK_SEED", 0)),
			PanelSource:       getEnv("PANEL_SOURCE", "postgres"),
			PanelCSVPath:      getEnv("PANEL_CSV", "panel.csv"),
			PanelRPS:          getEnvAsFloat("PANEL_RPS", 2),
			InUniverse:        getEnvAsBool("IN_UNIVERSE", true),
			OutputFormat:      getEnv("OUTPUT_FORMAT", "parquet"),
			OutputPath:        getEnv("OUTPUT_PATH", "weights.parquet"),
		},

		Scheduler: SchedulerConfig{
			BacktestSchedule:  getEnv("BACKTEST_SCHEDULE", "0 0 18 * * 1-5"),
			LookbackDays:      getEnvAsInt("SCHEDULER_LOOKBACK_DAYS", 365),
			RetentionSchedule: getEnv("RETENTION_SCHEDULE", "0 30 3 * * *"),
			RetentionDays:     getEnvAsInt("RETENTION_DAYS", 90),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration values are usable. Called again after CLI overrides.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if err := c.Backtest.Validate(); err != nil {
		return err
	}

	// Postgres is only needed when it is actually used
	if c.Database.URL == "" && (c.Backtest.PanelSource == "postgres" || c.Backtest.OutputFormat == "postgres") {
		return fmt.Errorf("DATABASE_URL is required for postgres panel source or output")
	}

	return nil
}

// Validate checks the backtest tunables
func (b *BacktestConfig) Validate() error {
	if b.IC <= 0 || b.IC >= 1 {
		return fmt.Errorf("IC must be in (0, 1), got %v", b.IC)
	}
	if b.Gamma <= 0 {
		return fmt.Errorf("GAMMA must be > 0, got %v", b.Gamma)
	}
	if b.MomentumWindow <= 0 {
		return fmt.Errorf("MOMENTUM_WINDOW must be > 0, got %d", b.MomentumWindow)
	}
	if b.ReportingLag < 0 {
		return fmt.Errorf("REPORTING_LAG must be >= 0, got %d", b.ReportingLag)
	}
	if b.PercentScale <= 0 {
		return fmt.Errorf("PERCENT_SCALE must be > 0, got %v", b.PercentScale)
	}
	if b.EndDate.Before(b.StartDate) {
		return fmt.Errorf("BACKTEST_END %s is before BACKTEST_START %s",
			b.EndDate.Format("2006-01-02"), b.StartDate.Format("2006-01-02"))
	}
	if b.MinAssets < 1 {
		return fmt.Errorf("MIN_ASSETS must be >= 1, got %d", b.MinAssets)
	}
	if b.RiskSimulations < 0 || b.RiskHoldingPeriod <= 0 {
		return fmt.Errorf("RISK_SIMULATIONS must be >= 0 and RISK_HOLDING_PERIOD > 0")
	}
	switch b.RiskModel {
	case "", "diagonal", "single_factor":
	case "covariance":
		if b.CovariancePath == "" {
			return fmt.Errorf("COVARIANCE_CSV is required for RISK_MODEL=covariance")
		}
	default:
		return fmt.Errorf("RISK_MODEL must be one of: diagonal, single_factor, covariance")
	}
	switch b.PanelSource {
	case "postgres", "csv":
	default:
		return fmt.Errorf("PANEL_SOURCE must be one of: postgres, csv")
	}
	switch b.OutputFormat {
	case "parquet", "csv", "postgres":
	default:
		return fmt.Errorf("OUTPUT_FORMAT must be one of: parquet, csv, postgres")
	}
	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

func getEnvAsDate(key string, defaultValue string) time.Time {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	date, err := time.Parse("2006-01-02", valueStr)
	if err != nil {
		date, _ = time.Parse("2006-01-02", defaultValue)
	}

	return date
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue string) []string {
	valueStr := getEnv(key, defaultValue)

	items := make([]string, 0)
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
