package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// RunPruner deletes stored runs
type RunPruner interface {
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob removes stored runs older than the retention window
type RetentionJob struct {
	pruner   RunPruner
	schedule string
	days     int
	now      func() time.Time
	logger   *logger.Logger
}

// NewRetentionJob creates a new retention job
func NewRetentionJob(pruner RunPruner, schedule string, days int, log *logger.Logger) *RetentionJob {
	return &RetentionJob{
		pruner:   pruner,
		schedule: schedule,
		days:     days,
		now:      time.Now,
		logger:   log.Module("retention_job"),
	}
}

// Name returns the job name
func (j *RetentionJob) Name() string {
	return "run_retention"
}

// Schedule returns the cron schedule (nightly by default)
func (j *RetentionJob) Schedule() string {
	return j.schedule
}

// Run executes the cleanup
func (j *RetentionJob) Run(ctx context.Context) (string, error) {
	if j.days <= 0 {
		return "retention disabled", nil
	}

	cutoff := j.now().AddDate(0, 0, -j.days)
	count, err := j.pruner.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return "", err
	}

	if count > 0 {
		j.logger.WithFields(map[string]interface{}{
			"removed": count,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("Run retention completed")
	}

	return fmt.Sprintf("removed %d runs before %s", count, cutoff.Format(time.DateOnly)), nil
}
