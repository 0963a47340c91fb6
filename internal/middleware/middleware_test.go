package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/kaya/internal/identity"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limit int) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, time.Minute)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(2)
	assert.True(t, rl.Allow("a"))
	clock.Advance(30 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "clients are limited independently")

	clock.Advance(31 * time.Second)
	assert.True(t, rl.Allow("a"), "the first request slid out of the window")
	assert.False(t, rl.Allow("a"))
}

func TestRateLimiterEvict(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(5)
	rl.Allow("a")
	clock.Advance(45 * time.Second)
	rl.Allow("b")
	clock.Advance(30 * time.Second)

	rl.Evict()
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiterMiddleware(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		r.RemoteAddr = "198.51.100.4:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do().Code)
	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"https://kaya.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	r.Header.Set("Origin", "https://kaya.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://kaya.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), identity.SessionHeaderName)
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	r = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
