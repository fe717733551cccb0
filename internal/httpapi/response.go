package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// APIError is the body of every error response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Error codes.
const (
	CodeValidation  = "validation"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeUnsupported = "unsupported"
	CodeInternal    = "internal"
)

// respondError writes err with an explicit status and code.
func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondErr maps a service error to its status and code.
func respondErr(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	respondError(c, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidData),
		errors.Is(err, types.ErrInvalidRange):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrChatNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, types.ErrDuplicateKey),
		errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, types.ErrUnsupportedCapability):
		return http.StatusNotImplemented, CodeUnsupported
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
