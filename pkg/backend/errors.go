package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rhuss/localresp/pkg/api"
)

// Sentinel kinds for backend failures. Match with errors.Is.
var (
	ErrUnavailable = errors.New("backend unavailable")
	ErrTimeout     = errors.New("backend timeout")
)

// Error is a classified backend failure.
type Error struct {
	Kind       error // ErrUnavailable or ErrTimeout
	StatusCode int   // backend HTTP status, 0 for network errors
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// APIError converts the failure to its wire representation.
func (e *Error) APIError() *api.APIError {
	if errors.Is(e.Kind, ErrTimeout) {
		return api.NewBackendTimeoutError(e.Error())
	}
	return api.NewBackendUnavailableError(e.Error())
}

// Unavailable wraps err as an ErrUnavailable failure.
func Unavailable(err error, message string) *Error {
	return &Error{Kind: ErrUnavailable, Message: message, Err: err}
}

// Timeout wraps err as an ErrTimeout failure.
func Timeout(err error, message string) *Error {
	return &Error{Kind: ErrTimeout, Message: message, Err: err}
}

// FromStatus classifies a non-2xx backend HTTP status.
func FromStatus(code int, message string) *Error {
	if message == "" {
		message = http.StatusText(code)
	}
	kind := ErrUnavailable
	if code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout {
		kind = ErrTimeout
	}
	return &Error{Kind: kind, StatusCode: code, Message: message}
}

// Classify maps an arbitrary adapter error to an *Error. Cancellation by
// the caller is returned unchanged so it can be told apart from failures.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err, "")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err, "")
	}
	return Unavailable(err, "")
}

// ToAPIError converts any backend-side error to an *api.APIError.
func ToAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.Canceled) {
		return api.NewCancelledError("request cancelled")
	}
	var be *Error
	if errors.As(Classify(err), &be) {
		return be.APIError()
	}
	return api.NewServerError(err.Error())
}
