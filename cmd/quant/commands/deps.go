package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewhall1124/backtest-test/internal/backtest"
	"github.com/andrewhall1124/backtest-test/internal/brain"
	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio"
	"github.com/andrewhall1124/backtest-test/internal/risk"
	"github.com/andrewhall1124/backtest-test/internal/s0_data"
	"github.com/andrewhall1124/backtest-test/internal/s0_data/quality"
	"github.com/andrewhall1124/backtest-test/internal/s2_signals"
	"github.com/andrewhall1124/backtest-test/pkg/config"
	"github.com/andrewhall1124/backtest-test/pkg/database"
	"github.com/andrewhall1124/backtest-test/pkg/httputil"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// remotePanelTimeout bounds one panel download
const remotePanelTimeout = 5 * time.Minute

// app holds the dependencies shared by the commands
type app struct {
	cfg  *config.Config
	log  *logger.Logger
	db   *database.DB          // nil unless postgres is configured
	runs *portfolio.Repository // nil unless db is set
}

// newApp connects to Postgres when the panel source or output needs it, or when needDB is set
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, needDB bool) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if !needDB && !usesPostgres(cfg) {
		return a, nil
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	runs := portfolio.NewRepository(db.Pool)
	if err := runs.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	log.Info("Connected to database")
	a.db = db
	a.runs = runs
	return a, nil
}

// Close releases the database pool
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func usesPostgres(cfg *config.Config) bool {
	return cfg.Backtest.PanelSource == "postgres" || cfg.Backtest.OutputFormat == "postgres"
}

// panelStore picks the configured panel source
func (a *app) panelStore() (contracts.PanelStore, error) {
	b := a.cfg.Backtest
	switch b.PanelSource {
	case "postgres":
		if a.db == nil {
			return nil, fmt.Errorf("postgres panel source needs a database connection")
		}
		return s0_data.NewPanelRepository(a.db.Pool), nil
	case "csv":
		if s0_data.IsRemote(b.PanelCSVPath) {
			client := httputil.NewWithTimeout(a.log, remotePanelTimeout).WithRateLimit(b.PanelRPS)
			return s0_data.NewRemoteCSVPanelStore(client, b.PanelCSVPath), nil
		}
		return s0_data.NewCSVPanelStore(b.PanelCSVPath), nil
	default:
		return nil, fmt.Errorf("unknown panel source %q", b.PanelSource)
	}
}

// weightWriters returns the configured sink. A connected database also records
// every run so the read API can serve it.
func (a *app) weightWriters() ([]contracts.WeightWriter, error) {
	b := a.cfg.Backtest
	if b.OutputFormat == "postgres" {
		if a.runs == nil {
			return nil, fmt.Errorf("postgres output needs a database connection")
		}
		return []contracts.WeightWriter{a.runs}, nil
	}

	file, err := portfolio.NewFileWriter(b.OutputFormat, b.OutputPath)
	if err != nil {
		return nil, err
	}
	writers := []contracts.WeightWriter{file}
	if a.runs != nil {
		writers = append(writers, a.runs)
	}
	return writers, nil
}

// signalConfig maps the backtest tunables onto the signal pipeline
func signalConfig(b config.BacktestConfig) s2_signals.Config {
	return s2_signals.Config{
		IC:           b.IC,
		Window:       b.MomentumWindow,
		Lag:          b.ReportingLag,
		PercentScale: b.PercentScale,
	}
}

// newOrchestrator wires store → gate → signals → optimizer → driver → writers
func (a *app) newOrchestrator(writers []contracts.WeightWriter) (*brain.Orchestrator, error) {
	b := a.cfg.Backtest

	store, err := a.panelStore()
	if err != nil {
		return nil, err
	}
	model, err := portfolio.ParseRiskModel(b.RiskModel, b.MarketVol, b.CovariancePath)
	if err != nil {
		return nil, err
	}
	mc := risk.DefaultMonteCarloConfig()
	mc.NumSimulations = b.RiskSimulations
	mc.HoldingPeriod = b.RiskHoldingPeriod
	mc.Seed = b.RiskSeed
	engine, err := risk.NewEngine(mc)
	if err != nil {
		return nil, err
	}

	pipeline := s2_signals.NewPipeline(signalConfig(b), a.log)
	optimizer := portfolio.NewOptimizer(portfolio.SolverConfig{
		MaxIter:   b.SolverMaxIter,
		Tolerance: b.SolverTolerance,
	}, a.log)
	driver := backtest.NewDriver(optimizer, backtest.Config{
		Workers:   b.Workers,
		MinAssets: b.MinAssets,
		NetTarget: b.NetTarget,
		Risk:      model,
		IC:        b.IC,
	}, a.log)

	orchestrator := brain.NewOrchestrator(store, quality.NewGate(quality.DefaultConfig()), pipeline, driver, writers, a.log)
	return orchestrator.WithRisk(engine), nil
}

// runConfig builds the run parameters from the backtest config
func runConfig(b config.BacktestConfig) (brain.RunConfig, error) {
	constraints, err := portfolio.Parse(b.Constraints)
	if err != nil {
		return brain.RunConfig{}, fmt.Errorf("invalid constraint set: %w", err)
	}
	warmup := 0
	if b.Warmup {
		warmup = signalConfig(b).WarmupCalendarDays()
	}
	return brain.RunConfig{
		StartDate:   b.StartDate,
		EndDate:     b.EndDate,
		WarmupDays:  warmup,
		InUniverse:  b.InUniverse,
		Constraints: constraints,
		Gamma:       b.Gamma,
	}, nil
}
