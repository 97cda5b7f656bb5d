// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "request_id"

// APIResponse is the JSON envelope every REST endpoint answers with.
type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError carries a stable machine-readable code next to the message.
// Details holds the underlying error text, including a board traceback.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var statusCodes = map[int]string{
	http.StatusBadRequest:            "BAD_REQUEST",
	http.StatusNotFound:              "NOT_FOUND",
	http.StatusConflict:              "CONFLICT",
	http.StatusRequestTimeout:        "TIMEOUT",
	http.StatusGatewayTimeout:        "TIMEOUT",
	http.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	http.StatusTooManyRequests:       "RATE_LIMIT_EXCEEDED",
	http.StatusInternalServerError:   "INTERNAL_SERVER_ERROR",
	http.StatusBadGateway:            "BAD_GATEWAY",
	http.StatusServiceUnavailable:    "SERVICE_UNAVAILABLE",
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data any) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: GetRequestID(c),
	})
}

// ErrorResponse sends an error response coded after the HTTP status.
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	code, ok := statusCodes[statusCode]
	if !ok {
		code = "UNKNOWN_ERROR"
	}
	CodedErrorResponse(c, statusCode, code, message, err)
}

// CodedErrorResponse sends an error response with an explicit error code
func CodedErrorResponse(c *gin.Context, statusCode int, code, message string, err error) {
	apiError := &APIError{Code: code, Message: message}
	if err != nil {
		apiError.Details = err.Error()
	}

	c.JSON(statusCode, APIResponse{
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: GetRequestID(c),
	})
}

// GetRequestID returns the ID set by the request ID middleware, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
