package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/identity"
	"github.com/ashureev/kaya/internal/session"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

// RegisterRoutes registers the REST routes. chat is wrapped around the chat
// endpoint only, typically the rate limiter.
func (h *Handler) RegisterRoutes(r chi.Router, chat func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		if chat != nil {
			r.With(chat).Post("/chat", h.Chat)
		} else {
			r.Post("/chat", h.Chat)
		}
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.EndSession)
		r.Get("/agents", h.ListAgents)
		r.Post("/agents/reload", h.ReloadAgents)
		r.Get("/status", h.Status)
	})
}

// Chat answers one utterance.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sid := identity.Sanitize(req.SessionID)
	if sid == "" {
		sid = identity.SessionIDFromContext(r.Context())
	}

	resp := h.dispatcher.HandleUtterance(r.Context(), domain.NewUtterance(req.Message, sid, req.Language, time.Now()))
	w.Header().Set(identity.SessionHeaderName, resp.SessionID)
	JSON(w, http.StatusOK, resp)
}

// SessionResponse is the export of a live or archived session.
type SessionResponse struct {
	session.Snapshot
	Archived bool `json:"archived"`
}

// GetSession exports a session, falling back to the archive once the live
// session is gone.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if snap, ok := h.sessions.Snapshot(id); ok {
		JSON(w, http.StatusOK, SessionResponse{Snapshot: snap})
		return
	}

	if h.archive != nil {
		a, err := h.archive.GetSession(r.Context(), id)
		if err != nil {
			slog.Error("Archive lookup failed", "session_id", id, "error", err)
			Error(w, http.StatusInternalServerError, "archive unavailable")
			return
		}
		if a != nil {
			JSON(w, http.StatusOK, SessionResponse{Snapshot: session.FromArchive(*a), Archived: true})
			return
		}
	}
	Error(w, http.StatusNotFound, "session not found")
}

// EndSession ends a live session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.End(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
