package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/videa/internal/conversation"
	"github.com/ashureev/videa/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler carries the chat operations over a single WebSocket.
type WebSocketHandler struct {
	*Handler
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(base *Handler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{Handler: base, allowedOrigin: allowedOrigin, isDev: isDev}
}

// RegisterRoutes registers the WebSocket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.ServeHTTP)
}

// wsRequest is one client frame. Type is start, message or confirm.
type wsRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Confirmed *bool  `json:"confirmed,omitempty"`
}

// wsResponse is one server frame. Type echoes the request type, or is error.
type wsResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(maxBodyBytes)

	ctx := conversation.WithChannel(r.Context(), "ws")
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		resp := h.dispatch(ctx, userID, message)
		if err := h.writeJSON(ctx, ws, resp); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "user_id", userID)
			return
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, userID string, message []byte) wsResponse {
	var req wsRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return errorFrame(req, fmt.Errorf("%w: malformed frame: %v", conversation.ErrInvalidInput, err))
	}

	var (
		data any
		err  error
	)
	switch req.Type {
	case "start":
		hint := strings.TrimSpace(req.UserID)
		if hint == "" {
			hint = userID
		}
		data, err = h.chat.Start(ctx, hint)
	case "message":
		if err = requireSessionID(req.SessionID); err == nil {
			data, err = h.chat.PostTurn(ctx, req.SessionID, req.Message)
		}
	case "confirm":
		switch {
		case requireSessionID(req.SessionID) != nil:
			err = requireSessionID(req.SessionID)
		case req.Confirmed == nil:
			err = fmt.Errorf("%w: confirmed is required", conversation.ErrInvalidInput)
		default:
			data, err = h.chat.Confirm(ctx, req.SessionID, *req.Confirmed)
		}
	default:
		err = fmt.Errorf("%w: unknown frame type %q", conversation.ErrInvalidInput, req.Type)
	}
	if err != nil {
		status, _ := classify(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("WebSocket request failed", "type", req.Type, "session_id", req.SessionID, "error", err)
		}
		return errorFrame(req, err)
	}
	return wsResponse{Type: req.Type, RequestID: req.RequestID, Data: data}
}

func errorFrame(req wsRequest, err error) wsResponse {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && code == "internal" {
		msg = "internal error"
	}
	return wsResponse{Type: "error", RequestID: req.RequestID, Error: msg, Code: code}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
