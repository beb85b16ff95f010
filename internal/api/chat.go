package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/videa/internal/conversation"
	"github.com/ashureev/videa/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ChatHandler serves the conversational endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/message", h.Message)
		r.Post("/confirm", h.Confirm)
		r.Get("/sessions/{id}", h.GetSession)
	})
}

type startRequest struct {
	UserID string `json:"user_id"`
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
	Confirmed *bool  `json:"confirmed"`
}

// Start opens a new session. The posted user_id wins over the identity cookie.
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	hint := strings.TrimSpace(req.UserID)
	if hint == "" {
		hint = identity.UserIDFromContext(r.Context())
	}

	res, err := h.chat.Start(conversation.WithChannel(r.Context(), "http"), hint)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Message posts one user message to a session.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := requireSessionID(req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.chat.PostTurn(conversation.WithChannel(r.Context(), "http"), req.SessionID, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Confirm records the enrollment decision.
func (h *ChatHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := requireSessionID(req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Confirmed == nil {
		h.writeError(w, r, fmt.Errorf("%w: confirmed is required", conversation.ErrInvalidInput))
		return
	}

	res, err := h.chat.Confirm(conversation.WithChannel(r.Context(), "http"), req.SessionID, *req.Confirmed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// GetSession returns the session view.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.chat.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

func requireSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: session_id is required", conversation.ErrInvalidInput)
	}
	return nil
}
