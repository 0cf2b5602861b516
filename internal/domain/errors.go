package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// Orchestration errors
	ErrAlreadyActive     = errors.New("download already has an active transfer")
	ErrNotActive         = errors.New("download has no active transfer")
	ErrNoPendingRestart  = errors.New("no restart decision is pending")
	ErrApprovalTimeout   = errors.New("restart approval timed out")
	ErrEngineStarted     = errors.New("engine already started")
	ErrInsufficientSpace = errors.New("insufficient space")

	// Transfer errors
	ErrRestartApprovalFailed = errors.New("restart approval failed")
	ErrPrematureEOF          = errors.New("stream ended before the announced length")
	ErrReadTimeout           = errors.New("no data received within read timeout")
)

// TransportError is a generic HTTP or I/O failure. It is the only error kind
// the orchestrator retries.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error returns the error message
func (e *TransportError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: unexpected status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	if msg == "" {
		return "transport error"
	}
	return msg
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new transport error
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// NewStatusError creates a transport error for an unexpected HTTP status
func NewStatusError(op string, statusCode int) *TransportError {
	return &TransportError{Op: op, StatusCode: statusCode}
}

// IsTransport returns true if the error is a transport error
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCodeOf returns the HTTP status carried by a transport error
func StatusCodeOf(err error) (int, bool) {
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return te.StatusCode, true
	}
	return 0, false
}
