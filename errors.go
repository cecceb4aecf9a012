package confprovider

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error classification (spec §7), mirroring the
// teacher's ErrorCode enum in internal/api/errors.go but expressed as Go
// sentinel errors rather than HTTP error-response codes.
type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeInvalidOperation Code = "INVALID_OPERATION"
	CodeLoadTimeout      Code = "LOAD_TIMEOUT"
	CodeLoadFailed       Code = "LOAD_FAILED"
	CodeAllFallbackFailed Code = "ALL_FALLBACK_FAILED"
	CodeSecretReference  Code = "SECRET_REFERENCE_ERROR"
	CodeSecretUnresolvable Code = "SECRET_UNRESOLVABLE"
	CodeAmbiguity        Code = "AMBIGUITY"
)

// Error is the provider's uniform error type: a Code plus a human message
// and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code, so
// errors.Is(err, &Error{Code: CodeX}) matches any *Error carrying CodeX.
// A bare Code is not an error value; use IsCode to test against one.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func newErr(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrInvalidArgument reports malformed options or selectors. Never retried.
func ErrInvalidArgument(format string, args ...any) error {
	return newErr(CodeInvalidArgument, format, args...)
}

// ErrInvalidOperation reports an operation that is not valid in the
// provider's current state. Projection path collisions are reported with
// ErrAmbiguity, and an unsupported snapshot composition fails Load with
// the engine's own error, not with this code.
func ErrInvalidOperation(format string, args ...any) error {
	return newErr(CodeInvalidOperation, format, args...)
}

// ErrLoadTimeout reports that the initial load exceeded its startup timeout.
func ErrLoadTimeout(elapsedMsg string) error {
	return newErr(CodeLoadTimeout, "initial load timed out: %s", elapsedMsg)
}

// ErrLoadFailed reports that the initial load exhausted retries for a
// non-timeout reason (e.g. the abort signal fired for another cause).
func ErrLoadFailed(cause error) error {
	return wrapErr(CodeLoadFailed, cause, "initial load failed")
}

// ErrAllFallbackFailed reports that every configured client failed a single
// operation (spec §4.8 step 4).
func ErrAllFallbackFailed(cause error) error {
	return wrapErr(CodeAllFallbackFailed, cause, "all configuration clients failed")
}

// ErrSecretReference wraps a secret resolution failure surfaced while
// adapting a secret-reference setting (spec §4.5).
func ErrSecretReference(cause error) error {
	return wrapErr(CodeSecretReference, cause, "secret reference could not be resolved")
}

// ErrSecretUnresolvable reports that no client, credential or resolver
// callback could resolve a secret reference (spec §4.6 step 2).
func ErrSecretUnresolvable(vaultHost string) error {
	return newErr(CodeSecretUnresolvable, "no secret client, credential or resolver configured for vault host %q", vaultHost)
}

// ErrAmbiguity reports a configuration-projection path collision (spec
// §4.11).
func ErrAmbiguity(format string, args ...any) error {
	return newErr(CodeAmbiguity, format, args...)
}

// IsCode reports whether err (or something it wraps) carries the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
