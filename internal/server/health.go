package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LivenessHandler reports whether the process is alive. It fails only when
// the process needs a restart.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker.Liveness() {
			writeHealth(w, logger, http.StatusOK, "alive", nil)
			return
		}
		writeHealth(w, logger, http.StatusServiceUnavailable, "not alive", nil)
	}
}

// ReadinessHandler reports whether a run is in progress, with per-state
// file counts from the checker.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := checker.GetStatus()
		if checker.Readiness(r.Context()) {
			writeHealth(w, logger, http.StatusOK, "ready", checks)
			return
		}
		writeHealth(w, logger, http.StatusServiceUnavailable, "not ready", checks)
	}
}

// StatusHandler reports the outcome of the current or last run. It returns
// 200 unless the run was aborted.
func StatusHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker.IsHealthy() {
			writeHealth(w, logger, http.StatusOK, "healthy", checker.GetStatus())
			return
		}
		writeHealth(w, logger, http.StatusInternalServerError, "unhealthy", checker.GetStatus())
	}
}

func writeHealth(w http.ResponseWriter, logger *slog.Logger, code int, status string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode health response", "status", status, "error", err)
	}
}
