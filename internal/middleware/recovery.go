package middleware

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"

	"mlbridge/sidecar/internal/telemetry"
)

// Recovery is HTTP middleware that recovers from panics.
// It logs the stack trace and returns a 500 Internal Server Error.
func Recovery(emitter *telemetry.Emitter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				log.Printf("PANIC recovered: request=%s %v\n%s", GetRequestID(r.Context()), err, stack)

				emitter.EmitError("bridgeRequest", telemetry.PhaseNone, fmt.Sprintf("panic: %v", err))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error":"internal_server_error","message":"An unexpected error occurred"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
