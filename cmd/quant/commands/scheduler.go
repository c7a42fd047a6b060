package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewhall1124/backtest-test/internal/scheduler"
	"github.com/andrewhall1124/backtest-test/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `정기 백테스트와 런 보관 정리를 스케줄합니다.

Subcommands:
  start   - 스케줄러 시작
  list    - 등록된 작업 목록
  run     - 특정 작업 즉시 실행

Example:
  go run ./cmd/quant scheduler start
  go run ./cmd/quant scheduler list
  go run ./cmd/quant scheduler run walk_forward_backtest`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 등록된 모든 작업을 스케줄합니다.

등록되는 작업:
- walk_forward_backtest: BACKTEST_SCHEDULE (기본: 평일 오후 6시)
- run_retention: RETENTION_SCHEDULE (기본: 매일 03:30, Postgres 연결 시)

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

// newScheduler registers the recurring backtest and, with a database, run retention
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	writers, err := a.weightWriters()
	if err != nil {
		return nil, err
	}
	orchestrator, err := a.newOrchestrator(writers)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	base, err := runConfig(a.cfg.Backtest)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(a.log, scheduler.WithRetry(2, time.Minute))

	sc := a.cfg.Scheduler
	if err := sched.AddJob(jobs.NewBacktestJob(orchestrator, base, sc.BacktestSchedule, sc.LookbackDays, a.log)); err != nil {
		return nil, err
	}
	if a.runs != nil {
		if err := sched.AddJob(jobs.NewRetentionJob(a.runs, sc.RetentionSchedule, sc.RetentionDays, a.log)); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func initScheduler(cmd *cobra.Command) (*app, *scheduler.Scheduler, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cmd.Context(), cfg, log, false)
	if err != nil {
		return nil, nil, err
	}
	sched, err := a.newScheduler()
	if err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("init scheduler: %w", err)
	}
	return a, sched, nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	a, sched, err := initScheduler(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sched.Start()

	PrintSuccess("Scheduler started")
	fmt.Println("\nRegistered jobs:")
	PrintJobs(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	<-cmd.Context().Done()

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, sched, err := initScheduler(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("Registered jobs:")
	PrintJobs(sched)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	a, sched, err := initScheduler(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	// Ctrl+C cancels the running job
	stop := context.AfterFunc(cmd.Context(), sched.Stop)
	defer func() {
		if stop() {
			sched.Stop()
		}
	}()

	fmt.Printf("Running job: %s\n", args[0])
	result, err := sched.RunJobSync(args[0])
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("job %s failed after %s: %s", result.JobName, result.Duration.Round(time.Millisecond), result.Error)
	}

	PrintSuccess(fmt.Sprintf("Job %s completed in %s (%d attempts)", result.JobName, result.Duration.Round(time.Millisecond), result.Attempts))
	if result.Summary != "" {
		PrintInfo(result.Summary)
	}
	return nil
}

// PrintJobs lists the registered jobs with their schedules and next run
func PrintJobs(sched *scheduler.Scheduler) {
	stats := sched.GetJobStats()
	for _, name := range sched.GetAllJobs() {
		st := stats[name]
		next := "-"
		if st.NextRun != nil {
			next = st.NextRun.Format(time.DateTime)
		}
		fmt.Printf("  - %-24s %-18s next: %s\n", name, st.Schedule, next)
	}
}
