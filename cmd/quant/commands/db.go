package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/s0_data"
)

// importBatchSize is the number of panel rows sent per pgx batch
const importBatchSize = 5000

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "PostgreSQL 관리",
	Long: `데이터베이스 연결을 확인하고 스키마와 패널 데이터를 준비합니다.

Subcommands:
  check   - 연결 테스트 및 풀 통계
  migrate - data.asset_panel, data.backtest_runs, data.portfolio_weights 생성
  import  - 패널 CSV를 data.asset_panel로 적재

Example:
  go run ./cmd/quant db check
  go run ./cmd/quant db migrate
  go run ./cmd/quant db import --panel panel.csv`,
}

var (
	dbCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "연결 테스트",
		RunE:  runDBCheck,
	}

	dbMigrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "스키마 생성",
		RunE:  runDBMigrate,
	}

	dbImportCmd = &cobra.Command{
		Use:   "import",
		Short: "패널 CSV 적재",
		RunE:  runDBImport,
	}

	dbImportPanel string
)

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbCheckCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbImportCmd)

	dbImportCmd.Flags().StringVar(&dbImportPanel, "panel", "", "패널 CSV 경로 또는 http(s) URL (기본: PANEL_CSV)")
}

func runDBCheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("✅ Config loaded (ENV: %s)\n", cfg.Env)
	fmt.Printf("   Database URL: %s\n\n", maskPassword(cfg.Database.URL))

	a, err := newApp(cmd.Context(), cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	status, err := a.db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	PrintSuccess("Health Check Results:")
	PrintKeyValue("Healthy", fmt.Sprintf("%v", status.Healthy), 14)
	PrintKeyValue("Response Time", status.ResponseTime.String(), 14)
	PrintKeyValue("Total Conns", fmt.Sprintf("%d", status.TotalConns), 14)
	PrintKeyValue("Acquired", fmt.Sprintf("%d", status.AcquiredConns), 14)
	PrintKeyValue("Idle", fmt.Sprintf("%d", status.IdleConns), 14)
	return nil
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	// newApp creates the run tables
	a, err := newApp(cmd.Context(), cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := s0_data.NewPanelRepository(a.db.Pool).EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	PrintSuccess("Schema is up to date")
	return nil
}

func runDBImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("panel") {
		cfg.Backtest.PanelCSVPath = dbImportPanel
	}
	// read from the CSV export regardless of the configured source
	cfg.Backtest.PanelSource = "csv"

	a, err := newApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	source, err := a.panelStore()
	if err != nil {
		return err
	}
	panel, err := source.LoadAssets(ctx, contracts.PanelQuery{
		Start: time.Time{},
		End:   time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		return fmt.Errorf("read panel: %w", err)
	}

	repo := s0_data.NewPanelRepository(a.db.Pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	for start := 0; start < len(panel); start += importBatchSize {
		end := start + importBatchSize
		if end > len(panel) {
			end = len(panel)
		}
		if err := repo.SaveBatch(ctx, panel[start:end]); err != nil {
			return err
		}
		log.WithFields(map[string]interface{}{
			"rows":  end,
			"total": len(panel),
		}).Debug("Imported panel batch")
	}

	PrintSuccess(fmt.Sprintf("Imported %d panel rows from %s", len(panel), cfg.Backtest.PanelCSVPath))
	return nil
}

// maskPassword hides the password of a database URL for display
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
