package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDirectoryNotFound is returned by a Transport when a remote directory does not exist.
	// It is an expected outcome: the session moves on to the next candidate path.
	ErrDirectoryNotFound = errors.New("remote directory not found")

	// ErrInvalidInput marks a start request rejected before any network access
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition marks a control request not allowed in the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionActive is returned when a server already has a live session
	ErrSessionActive = errors.New("session already active")

	// ErrServerNotFound is returned for an unknown server id
	ErrServerNotFound = errors.New("server not found")
)

// ConnectionError is fatal to a session: the server could not be reached or
// refused the credentials.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
