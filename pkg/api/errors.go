package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an API error on the wire.
type ErrorType string

const (
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeModelError     ErrorType = "model_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
)

// Error codes refining ErrorType.
const (
	CodeBackendUnavailable  = "backend_unavailable"
	CodeBackendTimeout      = "backend_timeout"
	CodeBackendError        = "backend_error"
	CodeCancelled           = "cancelled"
	CodeInvalidFunctionCall = "invalid_function_call"
	CodeUnknownFinishReason = "unknown_finish_reason"
	CodeStreamInvariant     = "stream_invariant_violation"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError as the top-level error body.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// ErrorKind is the closed error taxonomy used to decide how a failure is
// surfaced: HTTP status before output, terminal event after.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindBackendUnavailable
	KindBackendTimeout
	KindStreamAborted
	KindMalformedToolCall
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindBackendTimeout:
		return "backend_timeout"
	case KindStreamAborted:
		return "stream_aborted"
	case KindMalformedToolCall:
		return "malformed_tool_call"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Kind classifies the error.
func (e *APIError) Kind() ErrorKind {
	switch e.Code {
	case CodeBackendUnavailable:
		return KindBackendUnavailable
	case CodeBackendTimeout:
		return KindBackendTimeout
	case CodeCancelled:
		return KindStreamAborted
	case CodeInvalidFunctionCall:
		return KindMalformedToolCall
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return KindValidation
	case ErrorTypeNotFound:
		return KindNotFound
	case ErrorTypeRateLimit:
		return KindRateLimited
	}
	return KindInternal
}

// KindOf classifies any error. Errors that are not *APIError are internal.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindInternal
}

// NewInvalidRequestError creates a validation error for the given field path.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Param: param, Message: message}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Message: message}
}

// NewBackendUnavailableError reports an unreachable or failing backend.
func NewBackendUnavailableError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Code: CodeBackendUnavailable, Message: message}
}

// NewBackendTimeoutError reports a backend that stopped producing tokens.
func NewBackendTimeoutError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Code: CodeBackendTimeout, Message: message}
}

// NewCancelledError records a client-initiated abort. It is logged and
// stored but never written to the client.
func NewCancelledError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Code: CodeCancelled, Message: message}
}

// NewInvalidFunctionCallError flags a function call whose arguments are
// not valid JSON.
func NewInvalidFunctionCallError(message string) *APIError {
	return &APIError{Type: ErrorTypeModelError, Code: CodeInvalidFunctionCall, Message: message}
}

// NewModelError creates an APIError for model-related errors.
func NewModelError(code, message string) *APIError {
	return &APIError{Type: ErrorTypeModelError, Code: code, Message: message}
}

// NewRateLimitError creates an APIError for rate limiting.
func NewRateLimitError(message string) *APIError {
	return &APIError{Type: ErrorTypeRateLimit, Message: message}
}
