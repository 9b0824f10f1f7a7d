package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the identity provider no longer accepts the session.
	// The only remedy is a fresh login.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRefreshFailed is returned when a refresh could not be completed for a
	// transient reason. The session may still be valid.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrInvalidResponse marks a response body that is missing required fields
	// or cannot be decoded.
	ErrInvalidResponse = errors.New("invalid response")
	ErrNoSession       = errors.New("no session token")
	ErrTokenExpired    = errors.New("session token expired")
	ErrInvalidArgument = errors.New("invalid argument")
)

// APIError is a non-success HTTP response from one of the credit endpoints.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Is reports 401 responses as ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// NewAPIError creates an APIError for the given status.
func NewAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message}
}

// IsUnauthorized reports whether err is, or wraps, an unauthorized failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
