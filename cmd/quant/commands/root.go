package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andrewhall1124/backtest-test/pkg/config"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "Walk-forward momentum backtester",
	Long: `Walk-forward momentum / mean-variance backtester.

패널 로딩 → 모멘텀 시그널 → 날짜별 최적화 → 비중 저장.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant backtest run
  go run ./cmd/quant backtest run --start 2024-01-01 --end 2024-06-30 --gamma 5
  go run ./cmd/quant signals --out signals.csv
  go run ./cmd/quant runs list
  go run ./cmd/quant api`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// Ctrl+C cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the config and builds the logger every command shares
func loadConfig() (*config.Config, *logger.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, logger.New(cfg), nil
}
