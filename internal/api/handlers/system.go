package handlers

import (
	"context"
	"net/http"

	"github.com/andrewhall1124/backtest-test/internal/scheduler"
	"github.com/andrewhall1124/backtest-test/pkg/database"
)

// HealthChecker reports database health
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*database.HealthStatus, error)
}

// JobStatsProvider reports scheduler job statistics
type JobStatsProvider interface {
	GetJobStats() map[string]scheduler.JobStats
}

// SystemHandler serves health and scheduler status
type SystemHandler struct {
	db   HealthChecker
	jobs JobStatsProvider
}

// NewSystemHandler creates a new system handler. jobs may be nil when no scheduler runs in-process.
func NewSystemHandler(db HealthChecker, jobs JobStatsProvider) *SystemHandler {
	return &SystemHandler{db: db, jobs: jobs}
}

// Health returns server and database health
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.db.HealthCheck(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "degraded",
			"service":  "backtest-api",
			"database": status,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"service":  "backtest-api",
		"database": status,
	})
}

// Jobs returns scheduler statistics
// GET /api/jobs
func (h *SystemHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": map[string]scheduler.JobStats{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.jobs.GetJobStats()})
}
