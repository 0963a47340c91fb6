//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/dispatcher"
	"github.com/ashureev/kaya/internal/gateway"
	"github.com/ashureev/kaya/internal/identity"
	"github.com/ashureev/kaya/internal/knowledge"
	"github.com/ashureev/kaya/internal/middleware"
	"github.com/ashureev/kaya/internal/router"
	"github.com/ashureev/kaya/internal/session"
)

type wsFrame struct {
	Type     string              `json:"type"`
	Response dispatcher.Response `json:"response"`
	Error    string              `json:"error"`
}

func newSocketServer(t *testing.T) (*httptest.Server, *session.Store, *ConnManager) {
	t.Helper()
	return newLimitedSocketServer(t, nil)
}

func newLimitedSocketServer(t *testing.T, limiter Limiter) (*httptest.Server, *session.Store, *ConnManager) {
	t.Helper()

	c, err := classifier.NewDefault()
	require.NoError(t, err)
	sessions := session.NewStore(session.Options{})
	d := dispatcher.New(c, sessions,
		router.New(knowledge.NewCache(t.TempDir(), nil), router.Options{}),
		gateway.New(nil, gateway.DefaultConfig()),
		dispatcher.Options{RequireGrounding: true})

	conns := NewConnManager()
	h := NewWebSocketHandler(d, conns, sessions, "*", true)
	if limiter != nil {
		h = h.WithLimiter(limiter)
	}
	srv := httptest.NewServer(identity.Middleware(true)(h))
	t.Cleanup(srv.Close)
	return srv, sessions, conns
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func exchange(t *testing.T, ctx context.Context, conn *websocket.Conn, msg string) wsFrame {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f wsFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebSocketChat(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, sessions, conns := newSocketServer(t)
	conn := dial(t, ctx, srv, "ws-1")

	f := exchange(t, ctx, conn, `{"type":"message","content":"Ich möchte mein Auto ummelden"}`)
	assert.Equal(t, "response", f.Type)
	assert.Equal(t, "buergerdienste", f.Response.Agent)
	assert.Equal(t, "ws-1", f.Response.SessionID)
	assert.Equal(t, router.NoInformation, f.Response.Text)

	f = exchange(t, ctx, conn, `Und was kostet das dort?`)
	assert.Equal(t, "buergerdienste", f.Response.Agent, "plain text frames are chat messages")

	f = exchange(t, ctx, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", f.Type)

	f = exchange(t, ctx, conn, `{"type":"bogus"}`)
	assert.Equal(t, "error", f.Type)

	snap, ok := sessions.Snapshot("ws-1")
	require.True(t, ok)
	assert.Len(t, snap.History, 2)
	assert.Equal(t, 1, conns.Len())
}

func TestWebSocketMessagesAreRateLimited(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, sessions, _ := newLimitedSocketServer(t, middleware.NewRateLimiter(2, time.Minute))
	conn := dial(t, ctx, srv, "ws-limited")

	for i := 0; i < 2; i++ {
		f := exchange(t, ctx, conn, `{"type":"message","content":"Hallo"}`)
		require.Equal(t, "response", f.Type)
	}

	f := exchange(t, ctx, conn, `{"type":"message","content":"Hallo"}`)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, ErrRateLimited, f.Error)

	f = exchange(t, ctx, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", f.Type, "the socket stays open and control frames are not throttled")

	snap, ok := sessions.Snapshot("ws-limited")
	require.True(t, ok)
	assert.Len(t, snap.History, 2)
}

func TestWebSocketEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, sessions, conns := newSocketServer(t)
	conn := dial(t, ctx, srv, "ws-end")

	exchange(t, ctx, conn, `{"type":"message","content":"Hallo"}`)
	f := exchange(t, ctx, conn, `{"type":"end"}`)
	assert.Equal(t, "ended", f.Type)

	_, ok := sessions.Snapshot("ws-end")
	assert.False(t, ok)
	require.Eventually(t, func() bool { return conns.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketOriginRejected(t *testing.T) {
	t.Parallel()

	h := NewWebSocketHandler(nil, NewConnManager(), nil, "https://kaya.example", false)
	r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
