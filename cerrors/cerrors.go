// Package cerrors implements the wire-stable error taxonomy shared by the
// cache engine, the on-disk layout, and the external API adapter. Every
// error that crosses a component boundary is a *cerrors.Error carrying one
// of the Code values below plus, where available, the underlying cause
// (wrapped with github.com/pkg/errors so a log line can still show the root
// cause while the dispatcher only ever sees the stable Code).
package cerrors

import "github.com/pkg/errors"

// Code is a wire-stable error classification. Dispatchers translate a Code
// into whatever error representation their transport uses; they never
// inspect the wrapped cause.
type Code string

const (
	// InvalidParams: schema-valid request with semantically invalid
	// values, e.g. hiWatermark <= loWatermark, or a dirType size that
	// does not exceed one filesystem block.
	InvalidParams Code = "InvalidParams"
	// ExistsError: an entity was not found when it had to exist, or
	// already existed when it had to not, depending on context.
	ExistsError Code = "ExistsError"
	// DefineError: type creation failed (e.g. disk).
	DefineError Code = "DefineError"
	// ChangeError: type modification failed.
	ChangeError Code = "ChangeError"
	// DeleteError: type deletion blocked (non-empty) or a disk failure.
	DeleteError Code = "DeleteError"
	// ResizeError: a resize could not be satisfied.
	ResizeError Code = "ResizeError"
	// InUseError: ExpireCacheObject on a non-evictable (in-use) object;
	// the expiry was deferred rather than rejected outright.
	InUseError Code = "InUseError"
	// ArgumentError: e.g. no filename available, or no unique
	// destination name could be found.
	ArgumentError Code = "ArgumentError"
	// PermError: destination not writable, per the sandbox oracle.
	PermError Code = "PermError"
	// DirectoryError: filesystem failure during a directory operation.
	DirectoryError Code = "DirectoryError"
	// ConfigurationError is reserved for a deployment that wants
	// re-DefineType to compare parameters and fail on mismatch instead
	// of the active ExistsError behavior. Never returned by this
	// implementation; see SPEC_FULL.md Open Question Decisions.
	ConfigurationError Code = "ConfigurationError"
	// InsufficientSpace: Reserve could not free enough evictable bytes
	// to admit a request; no object was removed.
	InsufficientSpace Code = "InsufficientSpace"
	// DiskError: creating an object's backing path failed (its shard
	// directory, file, or dirType directory).
	DiskError Code = "DiskError"
)

// Error is the concrete error type returned across component boundaries.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that carries cause as its root, following the
// pkg/errors convention of preserving context while only exposing a
// stable code to callers.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.Wrap(cause, message)}
}

// Is reports whether err is a *Error with the given Code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
