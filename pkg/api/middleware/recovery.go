package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/logger"
)

// Recovery returns a middleware that recovers from panics. The panic value
// is logged with the stack but never sent to the client.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				log.ErrorContext(r.Context(), "Panic recovered",
					"error", rec,
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", requestID,
					"stack", string(debug.Stack()),
				)

				response.Error(w,
					http.StatusInternalServerError,
					response.ErrCodeInternalServer,
					"Internal server error",
					requestID,
				)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
