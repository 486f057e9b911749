package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies call-core failures. Every code is terminal for the
// call state machine that surfaces it: the machine finishes local teardown
// (media release, peer destruction) before the error reaches the caller,
// and nothing is retried automatically.
type ErrorCode string

const (
	// Media / device errors
	ErrCodeMediaAcquisition ErrorCode = "MEDIA_ACQUISITION"

	// Relay errors
	ErrCodeSignaling  ErrorCode = "SIGNALING"
	ErrCodeRelayWrite ErrorCode = "RELAY_WRITE"

	// Transport errors
	ErrCodeConnectionLost   ErrorCode = "CONNECTION_LOST"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// Call outcome errors
	ErrCodeCallTimeout  ErrorCode = "CALL_TIMEOUT"
	ErrCodeCallDeclined ErrorCode = "CALL_DECLINED"

	// Misc
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeCallNotFound ErrorCode = "CALL_NOT_FOUND"
)

// CallError is a structured call-core error carrying a code, a
// human-readable message and an optional remediation hint shown to the user
// for permission-class failures.
type CallError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation,omitempty"`
	Err         error     `json:"-"`
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on code: two CallErrors are equivalent when their
// codes match, so sentinel comparisons work across wrap layers.
func (e *CallError) Is(target error) bool {
	var ce *CallError
	if errors.As(target, &ce) {
		return ce.Code == e.Code
	}
	return false
}

// New creates a CallError with the given code and message.
func New(code ErrorCode, message string) *CallError {
	return &CallError{Code: code, Message: message}
}

// Wrap wraps an existing error with a CallError, preserving the cause.
func Wrap(code ErrorCode, message string, err error) *CallError {
	return &CallError{Code: code, Message: message, Err: err}
}

// WithRemediation attaches a user-facing remediation hint.
func (e *CallError) WithRemediation(hint string) *CallError {
	e.Remediation = hint
	return e
}

// Media acquisition errors

func MediaAcquisitionError(err error) *CallError {
	return Wrap(ErrCodeMediaAcquisition, "Failed to access camera and microphone", err).
		WithRemediation("Allow camera and microphone access in your browser settings, then refresh the page")
}

// Relay errors

func SignalingError(err error) *CallError {
	return Wrap(ErrCodeSignaling, "Failed to establish connection", err)
}

func RelayWriteError(err error) *CallError {
	return Wrap(ErrCodeRelayWrite, "Signaling relay rejected the write", err)
}

// Transport errors

func ConnectionLostError() *CallError {
	return New(ErrCodeConnectionLost, "Connection lost. Please try calling again")
}

func ConnectionFailedError(err error) *CallError {
	return Wrap(ErrCodeConnectionFailed, "Connection failed due to network issues", err).
		WithRemediation("Check your internet connection and try again")
}

// Call outcome errors

func CallTimeoutError() *CallError {
	return New(ErrCodeCallTimeout, "No answer")
}

func CallDeclinedError() *CallError {
	return New(ErrCodeCallDeclined, "Call declined")
}

// Misc errors

func InvalidStateError(message string) *CallError {
	return New(ErrCodeInvalidState, message)
}

func CallNotFoundError() *CallError {
	return New(ErrCodeCallNotFound, "Call not found")
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// GetCallError extracts a CallError from err, wrapping anything else as a
// SIGNALING-class internal failure.
func GetCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return Wrap(ErrCodeSignaling, "Unexpected error", err)
}
