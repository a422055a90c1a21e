// Package errors provides standardized domain errors with codes for the core.
//
// Usage:
//
//	// Return typed errors from core components.
//	if !hasAudio {
//	    return errors.NotAnAudioFile(path)
//	}
//
//	// Check with errors.Is / errors.As.
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeLocked:
//	        w.WriteHeader(domainErr.HTTPStatus())
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error kind, per the propagation policy:
// per-candidate errors never abort a scan; per-request errors surface as HTTP
// status; whole-process fatal errors exit non-zero.
type Code string

const (
	// CodeInvalidInput covers invalid UTF-8 paths, out-of-library paths, and
	// invalid regexes; local to the call, surfaced to the caller.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeNotAnAudioFile: valid container, no audio stream; scanner skips and continues.
	CodeNotAnAudioFile Code = "NOT_AN_AUDIO_FILE"
	// CodeMediaError: media framework failure; scanner logs and continues with the next candidate.
	CodeMediaError Code = "MEDIA_ERROR"
	// CodeIo: filesystem failure; per-candidate errors are logged, scan.lock failures are fatal
	// unless the lock mode is Block.
	CodeIo Code = "IO"
	// CodeDbError: catalog failure; an in-flight transaction is rolled back, scan continues.
	CodeDbError Code = "DB_ERROR"
	// CodeLocked: another scan is active; returned per the Error locking mode.
	CodeLocked Code = "LOCKED"
	// CodeNoStreamHeader: transcoder could not obtain its streamheader caps.
	CodeNoStreamHeader Code = "NO_STREAM_HEADER"
	// CodeInvalidState: an operation was attempted against a component in the wrong state.
	CodeInvalidState Code = "INVALID_STATE"
	// CodeNotFound: entity lookup miss, surfaced as 404.
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeLocked:
		return http.StatusConflict
	case CodeNoStreamHeader, CodeInvalidState, CodeMediaError, CodeIo, CodeDbError:
		return http.StatusInternalServerError
	case CodeNotAnAudioFile:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error. Matches if target is an
// *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrInvalidInput   = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrNotAnAudioFile = &Error{Code: CodeNotAnAudioFile, Message: "not an audio file"}
	ErrMediaError     = &Error{Code: CodeMediaError, Message: "media framework error"}
	ErrIo             = &Error{Code: CodeIo, Message: "io error"}
	ErrDbError        = &Error{Code: CodeDbError, Message: "catalog error"}
	ErrLocked         = &Error{Code: CodeLocked, Message: "scan already in progress"}
	ErrNoStreamHeader = &Error{Code: CodeNoStreamHeader, Message: "no stream header available"}
	ErrInvalidState   = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "not found"}
)

// InvalidInput creates an invalid-input error.
func InvalidInput(msg string) *Error { return &Error{Code: CodeInvalidInput, Message: msg} }

// InvalidInputf creates an invalid-input error with a formatted message.
func InvalidInputf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NotAnAudioFile creates a not-an-audio-file error for the given path.
func NotAnAudioFile(path string) *Error {
	return &Error{Code: CodeNotAnAudioFile, Message: fmt.Sprintf("%s: no audio stream", path)}
}

// MediaError creates a media framework error carrying the framework's own code and description.
func MediaError(code, description string) *Error {
	return &Error{Code: CodeMediaError, Message: description, Details: code}
}

// Io wraps a filesystem error.
func Io(msg string, cause error) *Error {
	return &Error{Code: CodeIo, Message: msg, cause: cause}
}

// DbError wraps a catalog failure.
func DbError(msg string, cause error) *Error {
	return &Error{Code: CodeDbError, Message: msg, cause: cause}
}

// Locked creates a locked error (another scan is active).
func Locked(msg string) *Error { return &Error{Code: CodeLocked, Message: msg} }

// NoStreamHeader creates a no-stream-header transcoder error.
func NoStreamHeader(msg string) *Error { return &Error{Code: CodeNoStreamHeader, Message: msg} }

// InvalidState creates an invalid-state error.
func InvalidState(msg string) *Error { return &Error{Code: CodeInvalidState, Message: msg} }

// NotFoundf creates a not-found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
