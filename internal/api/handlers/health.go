package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type DBPinger interface {
	Ping(ctx context.Context) error
}

type CachePinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

type HealthHandler struct {
	db      DBPinger
	cache   CachePinger
	timeout time.Duration
}

func NewHealthHandler(db DBPinger, cache CachePinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{db: db, cache: cache, timeout: timeout}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz probes both stores with a bounded timeout. Causes are not echoed.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := h.db.Ping(ctx)
		cancel()
		checks["database"] = checkResult("database", err)
	}
	if h.cache != nil {
		checks["redis"] = checkResult("redis", h.cache.Ping(r.Context(), h.timeout))
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, map[string]interface{}{"status": statusStr(status), "checks": checks})
}

func checkResult(name string, err error) string {
	if err != nil {
		slog.Warn("readiness check failed", "check", name, "error", err)
		return "unhealthy"
	}
	return "ok"
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}
