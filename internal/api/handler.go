// Package api provides HTTP and WebSocket handlers for the Videa API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/videa/internal/conversation"
	"github.com/ashureev/videa/internal/domain"
)

// maxBodyBytes bounds request bodies; messages are capped far below this.
const maxBodyBytes = 64 << 10

// ChatService is the conversation engine as seen by the transport layer.
type ChatService interface {
	Start(ctx context.Context, userHint string) (conversation.StartResult, error)
	PostTurn(ctx context.Context, sessionID, text string) (conversation.TurnResult, error)
	Confirm(ctx context.Context, sessionID string, confirmed bool) (conversation.ConfirmResult, error)
	View(ctx context.Context, sessionID string) (conversation.View, error)
}

// Handler provides common handler utilities.
type Handler struct {
	chat   ChatService
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(chat ChatService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: chat, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorResponse carries a machine-readable code next to the message.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an engine error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrCatalogIntegrity):
		return http.StatusInternalServerError, "catalog_integrity"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "busy"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError maps err and writes it. Server-side failures are logged and their details withheld.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", r.URL.Path, "code", code, "error", err)
		if code == "internal" {
			msg = "internal error"
		}
	}
	JSON(w, status, errorResponse{Error: msg, Code: code})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", conversation.ErrInvalidInput, err)
	}
	return nil
}
