package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// maxRetryDelay caps the exponential backoff between attempts
const maxRetryDelay = 10 * time.Minute

// Scheduler runs registered jobs on their cron schedules
// ⭐ SSOT: 스케줄 관리는 이 스케줄러에서만
// A job never overlaps itself: a trigger while it runs is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry

	// cancelled by Stop so running jobs see shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	maxRetries int
	retryDelay time.Duration
}

type entry struct {
	job  Job
	id   cron.EntryID
	hist *history
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithRetry sets the retry count and the first backoff delay, which doubles per attempt
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(s *Scheduler) {
		s.maxRetries = maxRetries
		s.retryDelay = delay
	}
}

// New creates a scheduler. Panics inside jobs are recovered and logged.
func New(log *logger.Logger, opts ...Option) *Scheduler {
	log = log.Module("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{log: log})),
		),
		logger:     log,
		entries:    make(map[string]*entry),
		ctx:        ctx,
		cancel:     cancel,
		maxRetries: 3,
		retryDelay: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a job under its unique name
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	id, err := s.cron.AddFunc(job.Schedule(), func() {
		if _, err := s.execute(name, TriggerSchedule); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"job":    name,
				"reason": err.Error(),
			}).Warn("Scheduled run skipped")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.entries[name] = &entry{job: job, id: id, hist: newHistory()}

	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")
	return nil
}

// RemoveJob unregisters a job and drops its history
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	s.logger.WithField("job", name).Info("Job removed from scheduler")
	return nil
}

// Start starts the cron loop
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// RunJob triggers a job in the background
func (s *Scheduler) RunJob(name string) error {
	e, err := s.claim(name)
	if err != nil {
		return err
	}
	go s.run(e, TriggerManual)
	return nil
}

// RunJobSync runs a job now and returns its result
func (s *Scheduler) RunJobSync(name string) (JobResult, error) {
	return s.execute(name, TriggerManual)
}

func (s *Scheduler) execute(name string, trigger Trigger) (JobResult, error) {
	e, err := s.claim(name)
	if err != nil {
		return JobResult{}, err
	}
	return s.run(e, trigger), nil
}

// claim marks a job as running; the caller must call run
func (s *Scheduler) claim(name string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	if e.hist.running {
		return nil, fmt.Errorf("%s: %w", name, ErrJobRunning)
	}
	e.hist.running = true
	s.wg.Add(1)
	return e, nil
}

// run executes a claimed job with retries and records the result
func (s *Scheduler) run(e *entry, trigger Trigger) JobResult {
	defer s.wg.Done()

	name := e.job.Name()
	result := JobResult{JobName: name, Trigger: trigger, StartTime: time.Now()}
	log := s.logger.WithFields(map[string]interface{}{"job": name, "trigger": trigger})
	log.Info("Job started")

	delay := s.retryDelay
	for {
		result.Attempts++
		summary, err := e.job.Run(s.ctx)
		if err == nil {
			result.Success = true
			result.Summary = summary
			result.Error = ""
			break
		}
		result.Error = err.Error()
		if s.ctx.Err() != nil || result.Attempts > s.maxRetries {
			break
		}

		log.WithFields(map[string]interface{}{
			"attempt":  result.Attempts,
			"retry_in": delay.String(),
			"error":    err.Error(),
		}).Warn("Job attempt failed, retrying")

		select {
		case <-s.ctx.Done():
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	s.mu.Lock()
	e.hist.record(result)
	e.hist.running = false
	s.mu.Unlock()

	fields := map[string]interface{}{
		"duration": result.Duration.String(),
		"attempts": result.Attempts,
	}
	if result.Success {
		fields["summary"] = result.Summary
		log.WithFields(fields).Info("Job completed")
	} else {
		fields["error"] = result.Error
		log.WithFields(fields).Error("Job failed")
	}
	return result
}

// GetJobHistory returns the kept results of a job, oldest first
func (s *Scheduler) GetJobHistory(name string) ([]JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return e.hist.results(), nil
}

// GetAllJobs returns the registered job names, sorted
func (s *Scheduler) GetAllJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetJobStats returns statistics for every registered job
func (s *Scheduler) GetJobStats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]JobStats, len(s.entries))
	for name, e := range s.entries {
		st := e.hist.stats(name, e.job.Schedule())
		// zero until the cron loop has started
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			st.NextRun = &next
		}
		stats[name] = st
	}
	return stats
}
