package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsdash/dashboard-server/internal/config"
	"github.com/opsdash/dashboard-server/internal/health"
)

// Pinger is anything that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	db      Pinger
	redis   Pinger
	checker *health.Checker
}

// NewHealthHandler builds the handler. redis may be nil when not configured.
func NewHealthHandler(db Pinger, redis Pinger, checker *health.Checker) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, checker: checker}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"database":  "ok",
		"redis":     "disabled",
		"timestamp": time.Now().UnixMilli(),
	}

	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health: database ping failed")
		status = http.StatusServiceUnavailable
		body["status"] = "error"
		body["database"] = "error"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health: redis ping failed")
			body["redis"] = "error"
		} else {
			body["redis"] = "ok"
		}
	}

	writeJSON(w, status, body)
}

func (h *HealthHandler) Session(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Check(r)

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": report.Summary(),
		"report":  report,
	})
}
