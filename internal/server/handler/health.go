package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/limitdesk/internal/service"
)

// HealthInfo describes what the health endpoint reports.
type HealthInfo struct {
	Mode   string
	Chains []int64
	// LiveAvailable reports whether live sessions can be served.
	LiveAvailable func() bool
	// Orders and Polls are optional counters.
	Orders func() service.OrderHealth
	Polls  func() uint64
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	info      HealthInfo
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(info HealthInfo, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{info: info, startedAt: time.Now(), logger: logHandler(logger, "health")}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	live := false
	if h.info.LiveAvailable != nil {
		live = h.info.LiveAvailable()
	}
	chains := h.info.Chains
	if chains == nil {
		chains = []int64{}
	}
	body := map[string]any{
		"status":         "ok",
		"mode":           h.info.Mode,
		"chains":         chains,
		"live_available": live,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.info.Orders != nil {
		body["orders"] = h.info.Orders()
	}
	if h.info.Polls != nil {
		body["polls"] = h.info.Polls()
	}
	writeJSON(w, http.StatusOK, body)
}
