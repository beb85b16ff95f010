package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/videa/internal/conversation"
	"github.com/go-chi/chi/v5"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayStatusSource reports the last known gateway availability.
type GatewayStatusSource interface {
	Status() conversation.GatewayStatus
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db      Pinger
	gateway GatewayStatusSource
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger, gateway GatewayStatusSource) *HealthHandler {
	return &HealthHandler{db: db, gateway: gateway, timeout: 5 * time.Second}
}

type healthResponse struct {
	Status    string                     `json:"status"`
	Database  string                     `json:"database"`
	AIService string                     `json:"ai_service"`
	Gateway   conversation.GatewayStatus `json:"gateway"`
}

// Health reports database and language model availability. An unreachable
// database makes the service unhealthy; an unavailable model only degrades it
// because turns fall back to canned questions.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "healthy", Database: "connected", AIService: "available"}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	resp.Gateway = h.gateway.Status()
	if !resp.Gateway.Available {
		resp.AIService = "unavailable"
		if resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	JSON(w, statusCode, resp)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
