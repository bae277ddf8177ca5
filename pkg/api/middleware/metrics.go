package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// MetricsRecorder defines the interface for recording HTTP metrics.
type MetricsRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// unmatchedRoute labels requests that no route handled, so arbitrary
// paths cannot grow label cardinality.
const unmatchedRoute = "unmatched"

// Metrics returns a middleware that records HTTP metrics labelled by the
// chi route pattern rather than the raw path.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			wrapped := newStatusRecorder(w)

			// Panics are recorded as 500 and re-raised for Recovery.
			defer func() {
				if err := recover(); err != nil {
					recorder.RecordHTTPRequest(r.Context(), r.Method, metricsRoute(r),
						strconv.Itoa(http.StatusInternalServerError), time.Since(start))
					panic(err)
				}
			}()

			next.ServeHTTP(wrapped, r)

			recorder.RecordHTTPRequest(r.Context(), r.Method, metricsRoute(r),
				strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

func metricsRoute(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
