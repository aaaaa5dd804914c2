package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request tracing ID
	RequestIDKey ContextKey = "requestID"
)

// Guard restricts the bridge endpoint to the local editor: loopback
// connections only, plus an optional per-process session token the
// editor obtains out of band. It also assigns each request a tracing
// ID.
type Guard struct {
	token string
}

// NewGuard creates a guard. An empty token disables the token check
// (loopback-only mode).
func NewGuard(token string) *Guard {
	return &Guard{token: token}
}

// Protect is HTTP middleware enforcing the guard.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r.RemoteAddr) {
			writeGuardError(w, http.StatusForbidden, "LOOPBACK_ONLY", "Bridge only accepts local connections")
			return
		}
		if g.token != "" {
			presented := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(g.token)) != 1 {
				writeGuardError(w, http.StatusUnauthorized, "INVALID_SESSION_TOKEN", "Missing or invalid session token")
				return
			}
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return r.Header.Get("X-Sidecar-Token")
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeGuardError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}
