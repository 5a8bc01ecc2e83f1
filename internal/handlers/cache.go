package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/circuitbreaker"
	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/scheduler"
)

type levelView struct {
	cache.LevelStats
	Enabled          bool    `json:"enabled"`
	AvgLatencyMillis float64 `json:"avg_latency_ms"`
}

type statsResponse struct {
	Namespace  string                `json:"namespace"`
	Hits       int64                 `json:"hits"`
	Misses     int64                 `json:"misses"`
	Loads      int64                 `json:"loads"`
	LoadErrors int64                 `json:"load_errors"`
	Promotions int64                 `json:"promotions"`
	Errors     int64                 `json:"errors"`
	HitRate    float64               `json:"hit_rate"`
	Levels     map[string]levelView  `json:"levels"`
	Breaker    *circuitbreaker.Stats `json:"shared_breaker,omitempty"`
	LastWarmUp *scheduler.Run        `json:"last_warmup,omitempty"`
	NextWarmUp *time.Time            `json:"next_warmup,omitempty"`
}

// GetStats returns a statistics snapshot
// @Summary Get cache statistics
// @Description Returns counters, hit rate and per-level latency. With reset=true the counters are zeroed after reading.
// @Tags cache
// @Produce json
// @Param reset query bool false "Reset counters after reading"
// @Success 200 {object} statsResponse
// @Router /api/cache/stats [get]
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	var s cache.Statistics
	if r.URL.Query().Get("reset") == "true" {
		s = h.coord.SnapshotAndReset()
	} else {
		s = h.coord.Statistics()
	}

	resp := statsResponse{
		Namespace:  h.coord.Namespace(),
		Hits:       s.Hits,
		Misses:     s.Misses,
		Loads:      s.Loads,
		LoadErrors: s.LoadErrors,
		Promotions: s.Promotions,
		Errors:     s.Errors,
		HitRate:    s.HitRate(),
		Levels:     make(map[string]levelView, 3),
	}
	for _, level := range []cache.Level{cache.LevelLocal, cache.LevelSecondary, cache.LevelShared} {
		ls := s.Level(level)
		resp.Levels[level.String()] = levelView{
			LevelStats:       ls,
			Enabled:          h.coord.HasLevel(level),
			AvgLatencyMillis: float64(ls.AverageLatency()) / float64(time.Millisecond),
		}
	}
	if bs, ok := h.coord.BreakerStats(); ok {
		resp.Breaker = &bs
	}
	if h.warmer != nil {
		if run, ok := h.warmer.LastRun(); ok {
			resp.LastWarmUp = &run
		}
		if next := h.warmer.NextRun(); !next.IsZero() {
			resp.NextWarmUp = &next
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Evict removes one key
// @Summary Evict a cache entry
// @Tags cache
// @Param type path string true "Value type name"
// @Param key path string true "Cache key"
// @Param level query string false "local, secondary, shared or all (default)"
// @Success 204
// @Failure 400 {object} errorResponse
// @Router /api/cache/{type}/{key} [delete]
func (h *Handlers) Evict(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	level, err := parseLevel(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.coord.EvictNamed(r.Context(), vars["type"], vars["key"], level); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("Cache entry evicted",
		logging.String("type", vars["type"]),
		logging.String("key", vars["key"]),
		logging.String("level", level.String()),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Clear empties one level or all of them
// @Summary Clear the cache
// @Tags cache
// @Param level query string false "local, secondary, shared or all (default)"
// @Success 204
// @Failure 502 {object} errorResponse "A level could not be cleared"
// @Router /api/cache [delete]
func (h *Handlers) Clear(w http.ResponseWriter, r *http.Request) {
	level, err := parseLevel(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.coord.Clear(r.Context(), level); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WarmUp runs the registered warm-up tasks now
// @Summary Run cache warm-up
// @Tags cache
// @Produce json
// @Success 200 {object} cache.WarmUpReport
// @Failure 409 {object} errorResponse "A warm-up is already running"
// @Router /api/cache/warmup [post]
func (h *Handlers) WarmUp(w http.ResponseWriter, r *http.Request) {
	if h.warmer == nil {
		h.writeError(w, errors.NotFoundError("warm-up scheduler"))
		return
	}

	report, err := h.warmer.RunNow(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseLevel(r *http.Request) (cache.Level, error) {
	level, err := cache.ParseLevel(r.URL.Query().Get("level"))
	if err != nil {
		return level, errors.ValidationError(err.Error())
	}
	return level, nil
}
