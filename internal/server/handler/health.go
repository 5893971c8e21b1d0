package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks a backing store's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	db        Pinger
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. db may be nil in tests.
func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck reports liveness plus a database reachability flag. The
// endpoint stays 200 even when the database is down so load balancers
// keep routing to the replica that can still serve cached reads.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			dbOK = false
			h.logger.WarnContext(r.Context(), "handler: health ping failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"database":       dbOK,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
