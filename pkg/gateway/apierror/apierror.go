// Package apierror maps internal errors onto the JSON error envelope and
// HTTP status codes the API exposes.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/havenline/havenline/pkg/avatar"
	"github.com/havenline/havenline/pkg/gateway/sessionpool"
)

// ErrorType categorizes API errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrGateway        ErrorType = "gateway_error"
	ErrAPI            ErrorType = "api_error"
)

// Error is the canonical API error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Envelope is the wire shape of every error response.
type Envelope struct {
	Error *Error `json:"error"`
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a
// parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string) *Error {
	return &Error{Type: ErrRateLimit, Message: message}
}

// FromError converts any error to the canonical form plus an HTTP status.
// Unknown errors become an opaque api_error so internals do not leak.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, statusFromType(out.Type)
	}

	// Local bookkeeping mismatch: the pool has no record of the id.
	if errors.Is(err, sessionpool.ErrNotTracked) {
		return &Error{
			Type:      ErrNotFound,
			Message:   "session is not tracked",
			Param:     "session_id",
			RequestID: requestID,
		}, http.StatusNotFound
	}

	// Vendor rejections.
	var vendorErr *avatar.Error
	if errors.As(err, &vendorErr) && vendorErr != nil {
		out := &Error{
			Type:      ErrGateway,
			Message:   vendorErr.Message,
			Code:      vendorErr.Code,
			RequestID: requestID,
		}
		switch {
		case vendorErr.IsSessionNotFound():
			out.Type = ErrNotFound
			return out, http.StatusNotFound
		case vendorErr.Status == http.StatusTooManyRequests:
			out.Type = ErrRateLimit
			return out, http.StatusTooManyRequests
		default:
			return out, http.StatusBadGateway
		}
	}

	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrPermission:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
