package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewhall1124/backtest-test/internal/brain"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, config brain.RunConfig) (*brain.RunResult, error)
}

// BacktestJob re-runs the walk-forward backtest over a trailing window
// ⭐ SSOT: 정기 백테스트 스케줄은 이 Job에서만
type BacktestJob struct {
	runner       Runner
	base         brain.RunConfig
	schedule     string
	lookbackDays int
	now          func() time.Time
	logger       *logger.Logger
}

// NewBacktestJob creates a new backtest job. base carries everything but the date range.
func NewBacktestJob(runner Runner, base brain.RunConfig, schedule string, lookbackDays int, log *logger.Logger) *BacktestJob {
	return &BacktestJob{
		runner:       runner,
		base:         base,
		schedule:     schedule,
		lookbackDays: lookbackDays,
		now:          time.Now,
		logger:       log.Module("backtest_job"),
	}
}

// Name returns the job name
func (j *BacktestJob) Name() string {
	return "walk_forward_backtest"
}

// Schedule returns the cron schedule (weekdays after the close by default)
func (j *BacktestJob) Schedule() string {
	return j.schedule
}

// Window returns the date range of the next run: the lookback ending today (UTC)
func (j *BacktestJob) Window() (time.Time, time.Time) {
	now := j.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -j.lookbackDays), end
}

// Run executes the backtest and summarizes the solved dates
func (j *BacktestJob) Run(ctx context.Context) (string, error) {
	if j.lookbackDays <= 0 {
		return "", fmt.Errorf("lookback days must be positive, got %d", j.lookbackDays)
	}

	cfg := j.base
	cfg.StartDate, cfg.EndDate = j.Window()

	j.logger.WithFields(map[string]interface{}{
		"start_date": cfg.StartDate.Format("2006-01-02"),
		"end_date":   cfg.EndDate.Format("2006-01-02"),
	}).Info("Starting scheduled backtest")

	result, err := j.runner.Run(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("scheduled backtest: %w", err)
	}

	summary := fmt.Sprintf("run %s", result.RunID)
	fields := map[string]interface{}{
		"run_id":   result.RunID,
		"duration": result.Duration.Seconds(),
	}
	if bt := result.Backtest; bt != nil {
		fields["solved"] = bt.Summary.Solved
		fields["failed"] = bt.Summary.Failed
		summary = fmt.Sprintf("run %s: %d solved, %d failed, %d skipped",
			result.RunID, bt.Summary.Solved, bt.Summary.Failed, bt.Summary.Skipped)
	}
	j.logger.WithFields(fields).Info("Scheduled backtest completed")

	return summary, nil
}
