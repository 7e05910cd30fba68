package conversation

import (
	"errors"
	"fmt"
)

// Common errors returned by the conversation package.
var (
	// ErrNotConnected is returned when an operation requires an active
	// connection.
	ErrNotConnected = errors.New("conversation: not connected")

	// ErrAlreadyConnected is returned when Connect is called on an
	// already-connected client.
	ErrAlreadyConnected = errors.New("conversation: already connected")

	// ErrConnectionClosed is returned when the connection was closed.
	ErrConnectionClosed = errors.New("conversation: connection closed")

	// ErrDegraded is returned by send operations after connect attempts
	// were exhausted. The frame is dropped, not queued.
	ErrDegraded = errors.New("conversation: degraded, dropping frame")

	// ErrSendFailed is returned when an outbound frame could not be
	// queued for writing.
	ErrSendFailed = errors.New("conversation: send failed")
)

// ServerError represents an error event reported by the gateway inside the
// message stream, as opposed to a transport failure.
type ServerError struct {
	// Message is the gateway's error description.
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("conversation: server error: %s", e.Message)
}

// ConnectionError represents a connection-related error.
type ConnectionError struct {
	// Reason describes what went wrong.
	Reason string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether another attempt might succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("conversation: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("conversation: connection error: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable returns true if the error is a retryable connection error.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}

// IsNotConnected returns true if the error indicates no active connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsDegraded returns true if the error indicates the degraded state.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrDegraded)
}
