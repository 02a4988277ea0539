package authapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnexpectedResponse marks a response whose body does not match the
	// endpoint contract.
	ErrUnexpectedResponse = errors.New("unexpected server response")
	// ErrNetwork marks a request that never produced an HTTP response.
	ErrNetwork = errors.New("network error")
	// ErrStatus marks a non-2xx response.
	ErrStatus = errors.New("request failed")
)

// GenericMessage is shown when the server did not explain a failure.
const GenericMessage = "An unexpected error occurred."

// Error is returned by every failed [Client] call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if !errors.Is(e.Err, ErrStatus) {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AuthFailure reports a 401 or 403 response.
func (e *Error) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// UserMessage returns the server's message, or [GenericMessage].
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return GenericMessage
}
