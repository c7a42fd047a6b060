package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/andrewhall1124/backtest-test/internal/brain"
	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/risk"
	"github.com/andrewhall1124/backtest-test/pkg/config"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// maxFailureRows caps the failure table of a run
const maxFailureRows = 10

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", message)
	fmt.Println()
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	fmt.Printf("ℹ️  %s\n", message)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Println(strings.Repeat("─", totalWidth))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// printRunHeader prints the parameters of a backtest run
func printRunHeader(b config.BacktestConfig, dryRun bool) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Println("  Walk-Forward Backtest")
	PrintSeparator()
	PrintKeyValue("Period", formatDate(b.StartDate)+" ~ "+formatDate(b.EndDate), 12)
	PrintKeyValue("Panel", panelLocation(b), 12)
	PrintKeyValue("IC", fmt.Sprintf("%g", b.IC), 12)
	PrintKeyValue("Gamma", fmt.Sprintf("%g", b.Gamma), 12)
	PrintKeyValue("Window/Lag", fmt.Sprintf("%d / %d", b.MomentumWindow, b.ReportingLag), 12)
	PrintKeyValue("Warmup", fmt.Sprintf("%v", b.Warmup), 12)
	PrintKeyValue("Constraints", strings.Join(b.Constraints, ", "), 12)
	PrintKeyValue("Risk Model", b.RiskModel, 12)
	PrintKeyValue("Dry Run", fmt.Sprintf("%v", dryRun), 12)
	PrintSeparator()
}

func panelLocation(b config.BacktestConfig) string {
	if b.PanelSource == "csv" {
		return "csv " + b.PanelCSVPath
	}
	return b.PanelSource
}

func outputLocation(b config.BacktestConfig) string {
	if b.OutputFormat == "postgres" {
		return "postgres"
	}
	return b.OutputFormat + " " + b.OutputPath
}

// printRunResult prints the outcome of a backtest run
func printRunResult(result *brain.RunResult, b config.BacktestConfig) {
	bt := result.Backtest
	s := bt.Summary

	fmt.Println()
	PrintKeyValue("Run ID", result.RunID, 14)
	PrintKeyValue("Stages", strings.Join(result.CompletedStages, " → "), 14)
	PrintKeyValue("Panel Rows", fmt.Sprintf("%d", result.PanelRows), 14)
	if result.Quality != nil {
		PrintKeyValue("Quality Score", fmt.Sprintf("%.3f (passed: %v)", result.Quality.QualityScore, result.Quality.Passed), 14)
	}
	PrintKeyValue("Signals", fmt.Sprintf("%d rows, %d with alpha", result.SignalRows, result.AlphaRows), 14)
	PrintKeyValue("Dates", fmt.Sprintf("%d solved / %d failed / %d skipped", s.Solved, s.Failed, s.Skipped), 14)
	PrintKeyValue("Workers", fmt.Sprintf("%d", s.Workers), 14)
	PrintKeyValue("Weights", fmt.Sprintf("%d rows", len(bt.Weights)), 14)

	if p := result.Performance; p != nil && len(p.Periods) > 0 {
		fmt.Println()
		fmt.Println("📊 Realized Performance")
		PrintKeyValue("Total Return", formatPercent(p.TotalReturn), 14)
		PrintKeyValue("Annualized", formatPercent(p.AnnualizedReturn), 14)
		PrintKeyValue("Volatility", formatPercent(p.Volatility), 14)
		PrintKeyValue("Sharpe", fmt.Sprintf("%.2f", p.SharpeRatio), 14)
		PrintKeyValue("Sortino", fmt.Sprintf("%.2f", p.SortinoRatio), 14)
		PrintKeyValue("Max Drawdown", formatPercent(p.MaxDrawdown), 14)
		PrintKeyValue("Avg Gross", fmt.Sprintf("%.3f", p.AverageGross), 14)
		if p.MissingReturns > 0 {
			PrintKeyValue("Missing Ret.", fmt.Sprintf("%d weights", p.MissingReturns), 14)
		}
	}

	if r := result.Risk; r != nil && r.Samples > 0 {
		printRiskReport(r)
	}

	if len(bt.Failures) > 0 {
		printFailures(bt.Failures)
	}

	fmt.Println()
	if containsStage(result.CompletedStages, contracts.StagePersist) {
		PrintSuccess(fmt.Sprintf("Weights written to %s in %.2fs", outputLocation(b), result.Duration.Seconds()))
	} else {
		PrintSuccess(fmt.Sprintf("Dry run completed in %.2fs", result.Duration.Seconds()))
	}
}

func printRiskReport(r *risk.Report) {
	fmt.Println()
	fmt.Println("🛡️  Tail Risk (loss positive)")
	widths := []int{10, 10, 10, 10}
	PrintTableHeader([]string{"Level", "Hist VaR", "Hist CVaR", "Norm VaR"}, widths)
	for i, h := range r.Historical {
		PrintTableRow([]string{
			fmt.Sprintf("%.0f%%", h.Confidence*100),
			formatPercent(h.VaR),
			formatPercent(h.CVaR),
			formatPercent(r.Parametric[i].VaR),
		}, widths)
	}
	if mc := r.MonteCarlo; mc != nil {
		PrintKeyValue("MC Paths", fmt.Sprintf("%d × %d periods", mc.Config.NumSimulations, mc.Config.HoldingPeriod), 14)
		PrintKeyValue("MC P(loss)", formatPercent(mc.ProbLoss), 14)
		if v, ok := mc.Levels[0.95]; ok {
			PrintKeyValue("MC VaR95", formatPercent(v.VaR), 14)
		}
	}
	for _, w := range r.Warnings {
		PrintWarning(w)
	}
}

func printFailures(failures []contracts.Failure) {
	fmt.Println()
	fmt.Printf("⚠️  %d dates without weights\n", len(failures))
	widths := []int{10, 13, 50}
	PrintTableHeader([]string{"Date", "Kind", "Message"}, widths)
	for i, f := range failures {
		if i == maxFailureRows {
			fmt.Printf("... %d more\n", len(failures)-maxFailureRows)
			break
		}
		PrintTableRow([]string{formatDate(f.Date), string(f.Kind), truncate(f.Message, widths[2])}, widths)
	}
}

func containsStage(stages []string, stage contracts.Stage) bool {
	for _, s := range stages {
		if s == stage.String() {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
