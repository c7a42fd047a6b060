package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio"
)

// runsCmd manages runs stored in Postgres
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "저장된 백테스트 런 관리",
	Long: `Postgres에 저장된 백테스트 런을 조회하고 정리합니다.

Subcommands:
  list    - 최근 런 목록
  show    - 런 요약과 날짜별 익스포저
  delete  - 런 삭제
  prune   - 오래된 런 정리

Example:
  go run ./cmd/quant runs list --limit 20
  go run ./cmd/quant runs show 3f1c...
  go run ./cmd/quant runs prune --days 90`,
}

var (
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "최근 런 목록",
		RunE:  listRuns,
	}

	runsShowCmd = &cobra.Command{
		Use:   "show [run_id]",
		Short: "런 요약",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	runsDeleteCmd = &cobra.Command{
		Use:   "delete [run_id]",
		Short: "런 삭제",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteRun,
	}

	runsPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "오래된 런 정리",
		RunE:  pruneRuns,
	}

	// Flags
	runsLimit     int
	runsPruneDays int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsPruneCmd)

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "최대 런 수")
	runsPruneCmd.Flags().IntVar(&runsPruneDays, "days", 0, "보관 기간 (일, 기본: RETENTION_DAYS)")
}

func openRuns(cmd *cobra.Command) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, log, true)
}

func listRuns(cmd *cobra.Command, args []string) error {
	a, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.runs.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		PrintInfo("No stored runs")
		return nil
	}

	widths := []int{36, 16, 23, 20, 6}
	PrintTableHeader([]string{"Run ID", "Finished", "Period", "Solved/Failed/Skip", "Gamma"}, widths)
	for _, r := range runs {
		PrintTableRow([]string{
			r.RunID,
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
			formatDate(r.StartDate) + " ~ " + formatDate(r.EndDate),
			fmt.Sprintf("%d/%d/%d", r.Solved, r.Failed, r.Skipped),
			fmt.Sprintf("%g", r.Gamma),
		}, widths)
	}
	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	a, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	run, err := a.runs.GetRun(ctx, args[0])
	if errors.Is(err, portfolio.ErrRunNotFound) {
		return fmt.Errorf("run %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	weights, err := a.runs.GetWeights(ctx, run.RunID, nil)
	if err != nil {
		return fmt.Errorf("get weights: %w", err)
	}

	PrintDoubleSeparator()
	fmt.Printf("  Run %s\n", run.RunID)
	PrintSeparator()
	PrintKeyValue("Period", formatDate(run.StartDate)+" ~ "+formatDate(run.EndDate), 12)
	PrintKeyValue("Finished", run.FinishedAt.Local().Format(time.RFC3339), 12)
	PrintKeyValue("Duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(), 12)
	PrintKeyValue("Dates", fmt.Sprintf("%d (%d solved, %d failed, %d skipped)", run.Dates, run.Solved, run.Failed, run.Skipped), 12)
	PrintKeyValue("Gamma / IC", fmt.Sprintf("%g / %g", run.Gamma, run.IC), 12)
	PrintKeyValue("Constraints", strings.Join(run.Constraints, ", "), 12)
	PrintKeyValue("Weights", fmt.Sprintf("%d rows", len(weights)), 12)

	if len(weights) == 0 {
		return nil
	}

	// first and last solved date
	first, last := weights[0].Date, weights[len(weights)-1].Date
	for _, date := range []time.Time{first, last} {
		var day []contracts.WeightRecord
		for _, w := range weights {
			if w.Date.Equal(date) {
				day = append(day, w)
			}
		}
		PrintKeyValue(formatDate(date), fmt.Sprintf("%d assets, net %.4f", len(day), contracts.NetExposure(day)), 12)
	}
	return nil
}

func deleteRun(cmd *cobra.Command, args []string) error {
	a, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.runs.DeleteRun(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, portfolio.ErrRunNotFound) {
			return fmt.Errorf("run %s not found", args[0])
		}
		return fmt.Errorf("delete run: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Run %s deleted", args[0]))
	return nil
}

func pruneRuns(cmd *cobra.Command, args []string) error {
	a, err := openRuns(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	days := a.cfg.Scheduler.RetentionDays
	if cmd.Flags().Changed("days") {
		days = runsPruneDays
	}
	if days <= 0 {
		PrintWarning("Retention is disabled (days <= 0), nothing pruned")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := a.runs.DeleteRunsBefore(cmd.Context(), cutoff)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Deleted %d runs finished before %s", deleted, formatDate(cutoff)))
	return nil
}
