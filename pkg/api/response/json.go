// Package response provides HTTP response utilities.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		// Headers are already sent, so an encoding failure can only truncate the body.
		_ = json.NewEncoder(w).Encode(data)
	}
}

// NoContent writes a 204 response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an error response with the given status code and error details.
func Error(w http.ResponseWriter, statusCode int, code, message string, requestID string) {
	JSON(w, statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// ErrorWithDetails writes an error response with additional details.
func ErrorWithDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string]any, requestID string) {
	JSON(w, statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// Decode reads a JSON request body into dst. Unknown fields, trailing data
// and oversized bodies are rejected with ErrInvalidInput.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body exceeds %d bytes: %w", ErrInvalidInput, maxErr.Limit, maxErr)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", ErrInvalidInput)
		default:
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON body", ErrInvalidInput)
	}
	return nil
}
