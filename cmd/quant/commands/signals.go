package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/s2_signals"
)

// signalsCmd exports the signal table without optimizing
var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "시그널 계산 및 CSV 출력",
	Long: `패널을 로드하고 momentum, score, alpha를 계산해 CSV로 출력합니다.

Example:
  go run ./cmd/quant signals > signals.csv
  go run ./cmd/quant signals --start 2024-06-01 --out signals.csv --alpha-only`,
	RunE: runSignals,
}

var (
	sigOpts      backtestOptions
	sigOut       string
	sigAlphaOnly bool
)

func init() {
	rootCmd.AddCommand(signalsCmd)

	addPanelFlags(signalsCmd.Flags(), &sigOpts)
	signalsCmd.Flags().StringVar(&sigOut, "out", "-", "출력 파일 (-: stdout)")
	signalsCmd.Flags().BoolVar(&sigAlphaOnly, "alpha-only", false, "알파가 있는 행만 출력")
}

func runSignals(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := sigOpts.apply(cmd.Flags(), &cfg.Backtest); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rc, err := runConfig(cfg.Backtest)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	orchestrator, err := a.newOrchestrator(nil)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	signals, err := orchestrator.Signals(ctx, rc)
	if err != nil {
		return fmt.Errorf("compute signals: %w", err)
	}
	if sigAlphaOnly {
		signals = contracts.FilterAlpha(signals)
	}

	var out io.Writer = cmd.OutOrStdout()
	if sigOut != "-" {
		f, err := os.Create(sigOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", sigOut, err)
		}
		defer f.Close()
		out = f
	}

	if err := s2_signals.WriteCSV(out, signals); err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"rows": len(signals),
		"out":  sigOut,
	}).Info("Signals written")
	return nil
}
