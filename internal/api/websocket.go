package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/identity"
)

// wsMessage is a client or server frame on /ws/chat.
type wsMessage struct {
	Type     string      `json:"type"`
	Content  string      `json:"content,omitempty"`
	Language string      `json:"language,omitempty"`
	Response interface{} `json:"response,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ConnManager tracks one live chat socket per session id. A second socket for
// the same session replaces the first.
type ConnManager struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

// NewConnManager creates an empty manager.
func NewConnManager() *ConnManager {
	return &ConnManager{active: make(map[string]*websocket.Conn)}
}

// Register adds conn for sessionID, closing any connection it replaces.
func (m *ConnManager) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[sessionID] = conn
	slog.Info("Chat socket registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the active one for sessionID.
func (m *ConnManager) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		slog.Info("Chat socket unregistered", "session_id", sessionID)
	}
}

// Close closes the socket of sessionID, if any. Used when a session ends.
func (m *ConnManager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.active[sessionID]; ok {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		delete(m.active, sessionID)
	}
}

// CloseAll closes every socket. Used on shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(m.active, sid)
	}
}

// Len returns the number of live sockets.
func (m *ConnManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// WebSocketHandler serves chat over a WebSocket.
type WebSocketHandler struct {
	dispatcher    Dispatcher
	conns         *ConnManager
	ending        SessionEnder
	allowedOrigin string
	isDev         bool
	writeTimeout  time.Duration
	limiter       Limiter
}

// Limiter admits or rejects one chat message for a client key.
type Limiter interface {
	Allow(key string) bool
}

// ErrRateLimited is the error text sent for throttled chat frames.
const ErrRateLimited = "rate limit exceeded"

// SessionEnder ends a session on the client's request.
type SessionEnder interface {
	End(id string) error
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(d Dispatcher, conns *ConnManager, ending SessionEnder, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher:    d,
		conns:         conns,
		ending:        ending,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		writeTimeout:  10 * time.Second,
	}
}

// WithLimiter throttles chat frames per client IP with l, the same limiter
// that guards POST /api/chat.
func (h *WebSocketHandler) WithLimiter(l Limiter) *WebSocketHandler {
	h.limiter = l
	return h
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, sessionID, identity.IPFromRequest(r))
	slog.Info("Chat socket session ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID, clientKey string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Plain text frames are treated as chat messages.
			msg = wsMessage{Type: "message", Content: string(data)}
		}

		switch msg.Type {
		case "message":
			if h.limiter != nil && !h.limiter.Allow(clientKey) {
				slog.Warn("Chat message rate limited", "session_id", sessionID, "client", clientKey)
				if err := h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: ErrRateLimited}); err != nil {
					return
				}
				continue
			}
			resp := h.dispatcher.HandleUtterance(ctx, domain.NewUtterance(msg.Content, sessionID, msg.Language, time.Now()))
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "response", Response: resp}); err != nil {
				slog.Debug("Failed to send response", "error", err, "session_id", sessionID)
				return
			}
		case "ping":
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "end":
			if h.ending != nil {
				if err := h.ending.End(sessionID); err != nil {
					slog.Debug("End requested for unknown session", "session_id", sessionID)
				}
			}
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "ended"}); err != nil {
				slog.Debug("Failed to send ended acknowledgment", "error", err)
			}
			return
		default:
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "error", Error: "unknown message type"}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
