// Package api provides HTTP handlers for the KAYA API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/kaya/internal/dispatcher"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/gateway"
	"github.com/ashureev/kaya/internal/knowledge"
	"github.com/ashureev/kaya/internal/session"
	"github.com/ashureev/kaya/internal/ttlcache"
)

const defaultMaxRequestBodySize = 64 << 10

// Dispatcher answers utterances.
type Dispatcher interface {
	HandleUtterance(ctx context.Context, u domain.Utterance) dispatcher.Response
}

// Knowledge is the dataset cache as seen by the API.
type Knowledge interface {
	Agents() []knowledge.AgentStatus
	Stats() knowledge.Stats
	Reload(ctx context.Context) (knowledge.Event, error)
}

// ArchiveReader reads ended sessions.
type ArchiveReader interface {
	GetSession(ctx context.Context, id string) (*domain.ArchivedSession, error)
}

// StatusSource reports gateway state.
type StatusSource interface {
	Status() gateway.Status
}

// RouterStats reports the router's derived cache.
type RouterStats interface {
	CacheStats() ttlcache.Stats
}

// Handler provides common handler utilities.
type Handler struct {
	dispatcher  Dispatcher
	sessions    *session.Store
	archive     ArchiveReader
	knowledge   Knowledge
	gateway     StatusSource
	router      RouterStats
	maxBodySize int64
}

// Deps groups the handler dependencies. Archive and Router may be nil.
type Deps struct {
	Dispatcher  Dispatcher
	Sessions    *session.Store
	Archive     ArchiveReader
	Knowledge   Knowledge
	Gateway     StatusSource
	Router      RouterStats
	MaxBodySize int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(d Deps) *Handler {
	if d.MaxBodySize <= 0 {
		d.MaxBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		dispatcher:  d.Dispatcher,
		sessions:    d.Sessions,
		archive:     d.Archive,
		knowledge:   d.Knowledge,
		gateway:     d.Gateway,
		router:      d.Router,
		maxBodySize: d.MaxBodySize,
	}
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
