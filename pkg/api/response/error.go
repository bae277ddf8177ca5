package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/storage"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Common error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeIndexNotBuilt      = "INDEX_NOT_BUILT"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrCodeClientClosed       = "CLIENT_CLOSED_REQUEST"
)

// StatusClientClosedRequest is the non-standard status logged when the
// client goes away before the response is written.
const StatusClientClosedRequest = 499

// Transport-level errors.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// HTTPStatusFromError maps transport and retrieval errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	var graphErr memory.GraphError
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, memory.ErrInvalidUserID),
		errors.Is(err, memory.ErrInvalidRecordID),
		errors.Is(err, memory.ErrInvalidOptions),
		errors.Is(err, memory.ErrUserMismatch),
		errors.Is(err, memory.ErrDimensionMismatch),
		errors.As(err, &graphErr):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrIndexNotBuilt):
		return http.StatusConflict
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrServiceUnavailable), storage.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the error code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, memory.ErrIndexNotBuilt):
		return ErrCodeIndexNotBuilt
	case errors.Is(err, memory.ErrInvalidOptions):
		return ErrCodeValidationFailed
	}
	return ErrorCodeFromStatus(HTTPStatusFromError(err))
}

// ErrorCodeFromStatus returns an error code for the given HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		return ErrCodeMethodNotAllowed
	case http.StatusConflict:
		return ErrCodeIndexNotBuilt
	case http.StatusRequestEntityTooLarge:
		return ErrCodePayloadTooLarge
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	case StatusClientClosedRequest:
		return ErrCodeClientClosed
	default:
		return ErrCodeInternalServer
	}
}

// HandleError writes the response for err. Server-side failures hide the
// underlying message.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	Error(w, status, ErrorCode(err), message, requestID)
}
