package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrJobRunning is returned when a job is triggered while its previous run is active
var ErrJobRunning = errors.New("job is already running")

// Job is a recurring task owned by the Scheduler
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string

	// Schedule is a cron expression with a seconds field, or a descriptor
	// Examples: "0 0 18 * * 1-5" (weekdays at 6 PM), "@daily"
	Schedule() string

	// Run executes one attempt and returns a one-line summary for the history
	Run(ctx context.Context) (string, error)
}

// Trigger records what started a run
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// JobResult is one execution of a job, retries included
type JobResult struct {
	JobName   string        `json:"job_name"`
	Trigger   Trigger       `json:"trigger"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Summary   string        `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// JobStats is the all-time view of a job served by the API and the CLI
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastSummary  string     `json:"last_summary,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// historySize is the number of results kept per job
const historySize = 100

// history keeps the latest results in a ring and counts every run
type history struct {
	ring     []JobResult
	next     int
	total    int
	failures int
	running  bool

	lastSuccess *time.Time
	lastFailure *time.Time
}

func newHistory() *history {
	return &history{ring: make([]JobResult, 0, historySize)}
}

func (h *history) record(r JobResult) {
	if len(h.ring) < historySize {
		h.ring = append(h.ring, r)
	} else {
		h.ring[h.next] = r
	}
	h.next = (h.next + 1) % historySize

	h.total++
	start := r.StartTime
	if r.Success {
		h.lastSuccess = &start
	} else {
		h.failures++
		h.lastFailure = &start
	}
}

// results returns a copy of the kept results, oldest first
func (h *history) results() []JobResult {
	out := make([]JobResult, 0, len(h.ring))
	if len(h.ring) < historySize {
		return append(out, h.ring...)
	}
	out = append(out, h.ring[h.next:]...)
	return append(out, h.ring[:h.next]...)
}

func (h *history) latest() (JobResult, bool) {
	if len(h.ring) == 0 {
		return JobResult{}, false
	}
	return h.ring[(h.next-1+historySize)%historySize], true
}

func (h *history) stats(name, schedule string) JobStats {
	s := JobStats{
		JobName:      name,
		Schedule:     schedule,
		Running:      h.running,
		TotalRuns:    h.total,
		SuccessCount: h.total - h.failures,
		FailureCount: h.failures,
		LastSuccess:  h.lastSuccess,
		LastFailure:  h.lastFailure,
	}
	if h.total > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(h.total)
	}
	if last, ok := h.latest(); ok {
		start := last.StartTime
		s.LastRun = &start
		s.LastSummary = last.Summary
		s.LastError = last.Error
	}
	return s
}
