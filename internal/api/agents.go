package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/kaya/internal/knowledge"
)

// ListAgents returns the dataset status of every agent.
func (h *Handler) ListAgents(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"agents": h.knowledge.Agents(),
		"stats":  h.knowledge.Stats(),
	})
}

// ReloadAgents reloads every dataset from disk.
func (h *Handler) ReloadAgents(w http.ResponseWriter, r *http.Request) {
	ev, err := h.knowledge.Reload(r.Context())
	if err != nil {
		if errors.Is(err, knowledge.ErrReloadInProgress) {
			Error(w, http.StatusConflict, "reload already in progress")
			return
		}
		slog.Error("Dataset reload failed", "error", err)
		Error(w, http.StatusInternalServerError, "reload failed")
		return
	}
	changed := ev.Changed
	if changed == nil {
		changed = []string{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"changed":   changed,
		"loaded_at": ev.At,
	})
}

// Status reports gateway, breaker, budget and cache state.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"gateway":         h.gateway.Status(),
		"knowledge":       h.knowledge.Stats(),
		"active_sessions": h.sessions.Len(),
	}
	if h.router != nil {
		status["router_cache"] = h.router.CacheStats()
	}
	JSON(w, http.StatusOK, status)
}
