// Package identity resolves the conversation session id of a request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SessionHeaderName = "X-KAYA-Session-ID"
	SessionQueryParam = "session_id"
	SessionCookieName = "kaya_session"
	sessionCookieAge  = 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// Sanitize returns id if it is a well-formed session id, otherwise "".
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// SessionIDFromRequest looks at the header, the query string and the cookie
// in that order. It returns "" when none carries a valid id.
func SessionIDFromRequest(r *http.Request) string {
	if sid := Sanitize(r.Header.Get(SessionHeaderName)); sid != "" {
		return sid
	}
	if sid := Sanitize(r.URL.Query().Get(SessionQueryParam)); sid != "" {
		return sid
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return Sanitize(c.Value)
	}
	return ""
}

// Middleware injects the session id, generating one when the request has
// none. The id is echoed in the response header and refreshed in a cookie.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := SessionIDFromRequest(r)
			if sid == "" {
				sid = uuid.NewString()
			}

			w.Header().Set(SessionHeaderName, sid)
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sid,
				Path:     "/",
				MaxAge:   int(sessionCookieAge.Seconds()),
				Expires:  time.Now().Add(sessionCookieAge),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   !isDev,
			})

			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sid)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
