// Package middleware provides HTTP middleware components.
package middleware

import (
	"net/http"
	"time"

	"github.com/goclaw/recall/pkg/logger"
)

// statusRecorder wraps http.ResponseWriter to capture the first status
// code and the body size.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	size       int
	written    bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.written = true
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logger returns a middleware that logs HTTP requests. It also stores a
// request-scoped logger carrying the request ID in the context, so handlers
// can use logger.FromContext.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := log
			if id := GetRequestID(r.Context()); id != "" {
				reqLog = log.With("request_id", id)
			}
			r = r.WithContext(reqLog.WithContext(r.Context()))

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"size", wrapped.size,
				"remote_addr", r.RemoteAddr,
			}
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				reqLog.ErrorContext(r.Context(), "HTTP request", args...)
			case wrapped.statusCode >= http.StatusBadRequest:
				reqLog.WarnContext(r.Context(), "HTTP request", args...)
			default:
				reqLog.InfoContext(r.Context(), "HTTP request", args...)
			}
		})
	}
}
