// Package handlers implements the cache admin HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/circuitbreaker"
	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/scheduler"
)

// Coordinator is the part of cache.Coordinator the admin API drives.
type Coordinator interface {
	Namespace() string
	Statistics() cache.Statistics
	SnapshotAndReset() cache.Statistics
	BreakerStats() (circuitbreaker.Stats, bool)
	HasLevel(level cache.Level) bool
	EvictNamed(ctx context.Context, typeName, key string, level cache.Level) error
	Clear(ctx context.Context, level cache.Level) error
}

// Warmer runs warm-up on demand and reports past runs.
type Warmer interface {
	RunNow(ctx context.Context) (cache.WarmUpReport, error)
	LastRun() (scheduler.Run, bool)
	NextRun() time.Time
}

// HealthCheck probes one dependency, e.g. the Redis connection.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handlers struct {
	coord  Coordinator
	warmer Warmer
	checks []HealthCheck
	logger logging.Logger
}

// New creates the admin handlers. warmer may be nil when warm-up is not configured.
func New(coord Coordinator, warmer Warmer, checks ...HealthCheck) *Handlers {
	return &Handlers{
		coord:  coord,
		warmer: warmer,
		checks: checks,
		logger: logging.GetGlobalLogger().WithFields(logging.String("component", "admin_api")),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Admin request failed", err)
	}

	resp := errorResponse{Error: err.Error(), Type: string(errors.GetType(err))}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		resp.Code = appErr.Code
	}
	writeJSON(w, status, resp)
}

// statusFor maps error types onto HTTP status codes.
func statusFor(err error) int {
	if stderrors.Is(err, scheduler.ErrRunInProgress) {
		return http.StatusConflict
	}
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeConfig:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeLevelAccess, errors.ErrTypeConnection:
		return http.StatusBadGateway
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
