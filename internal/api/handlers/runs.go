package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
	"github.com/andrewhall1124/backtest-test/pkg/redis"
)

// RunStore reads and deletes stored backtest runs
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]contracts.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*contracts.RunSummary, error)
	GetWeights(ctx context.Context, runID string, date *time.Time) ([]contracts.WeightRecord, error)
	DeleteRun(ctx context.Context, runID string) error
}

// RunHandler handles stored run endpoints
// ⭐ SSOT: 백테스트 결과 API 핸들러는 여기서만
type RunHandler struct {
	store  RunStore
	cache  *redis.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewRunHandler creates a new run handler. cache may wrap a disabled client.
func NewRunHandler(store RunStore, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *RunHandler {
	return &RunHandler{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: log.Module("api"),
	}
}

// DateExposure summarizes one date of a run
type DateExposure struct {
	Date   string  `json:"date"`
	Assets int     `json:"assets"`
	Net    float64 `json:"net"`
	Gross  float64 `json:"gross"`
	Long   float64 `json:"long"`
	Short  float64 `json:"short"`
}

// ListRuns returns the most recent runs
// GET /api/runs?limit=50
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be an integer in [1, 500]")
			return
		}
		limit = n
	}

	var runs []contracts.RunSummary
	err := h.cache.GetOrSet(r.Context(), redis.RunsKey(limit), &runs, redis.TTLShort, func() (interface{}, error) {
		return h.store.ListRuns(r.Context(), limit)
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun returns one run summary
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	var run contracts.RunSummary
	err := h.cache.GetOrSet(r.Context(), redis.RunKey(runID), &run, h.ttl, func() (interface{}, error) {
		return h.store.GetRun(r.Context(), runID)
	})
	if h.handleStoreError(w, err, runID) {
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// GetWeights returns a run's weights, optionally for one date
// GET /api/runs/{id}/weights?date=2024-01-02
func (h *RunHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	raw := r.URL.Query().Get("date")
	var date *time.Time
	if raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = &d
	}

	weights, err := h.weights(r.Context(), runID, raw, date)
	if h.handleStoreError(w, err, runID) {
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"weights": weights,
		"count":   len(weights),
	})
}

// GetExposure returns net and gross exposure per date
// GET /api/runs/{id}/exposure
func (h *RunHandler) GetExposure(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	weights, err := h.weights(r.Context(), runID, "", nil)
	if h.handleStoreError(w, err, runID) {
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"dates":  exposures(weights),
	})
}

// DeleteRun removes a run and drops its cache entries
// DELETE /api/runs/{id}
func (h *RunHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	if h.handleStoreError(w, h.store.DeleteRun(r.Context(), runID), runID) {
		return
	}

	if err := h.cache.Delete(r.Context(), redis.RunKey(runID), redis.WeightsKey(runID, "")); err != nil {
		h.logger.WithError(err).Warn("Failed to invalidate run cache")
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *RunHandler) weights(ctx context.Context, runID, raw string, date *time.Time) ([]contracts.WeightRecord, error) {
	var weights []contracts.WeightRecord
	err := h.cache.GetOrSet(ctx, redis.WeightsKey(runID, raw), &weights, h.ttl, func() (interface{}, error) {
		return h.store.GetWeights(ctx, runID, date)
	})
	return weights, err
}

// handleStoreError writes the response for err and reports whether it did
func (h *RunHandler) handleStoreError(w http.ResponseWriter, err error, runID string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, portfolio.ErrRunNotFound):
		respondError(w, http.StatusNotFound, "run not found")
	default:
		h.logger.WithFields(map[string]interface{}{
			"run_id": runID,
		}).WithError(err).Error("Failed to read run")
		respondError(w, http.StatusInternalServerError, "Failed to read run")
	}
	return true
}

// exposures aggregates (date, asset_id)-ordered weights per date
func exposures(weights []contracts.WeightRecord) []DateExposure {
	out := make([]DateExposure, 0)
	for _, w := range weights {
		day := w.Date.Format("2006-01-02")
		if len(out) == 0 || out[len(out)-1].Date != day {
			out = append(out, DateExposure{Date: day})
		}
		e := &out[len(out)-1]
		e.Assets++
		e.Net += w.Weight
		e.Gross += math.Abs(w.Weight)
		if w.Weight > 0 {
			e.Long += w.Weight
		} else {
			e.Short += w.Weight
		}
	}
	return out
}
