package middleware

import (
	"fmt"
	"net/http"

	"github.com/goclaw/recall/pkg/api/response"
)

// BodyLimit caps request bodies at limit bytes. Requests declaring a larger
// Content-Length are refused up front; reads beyond the cap fail with
// *http.MaxBytesError.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				response.Error(w,
					http.StatusRequestEntityTooLarge,
					response.ErrCodePayloadTooLarge,
					fmt.Sprintf("Request body exceeds %d bytes", limit),
					GetRequestID(r.Context()),
				)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
