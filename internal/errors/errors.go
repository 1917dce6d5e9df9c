// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeIntegrityMismatch ErrorType = "INTEGRITY_MISMATCH"
	ErrorTypeNonFastForward    ErrorType = "NON_FAST_FORWARD"
	ErrorTypeEmptyCommit       ErrorType = "EMPTY_COMMIT"
	ErrorTypeConflict          ErrorType = "CONFLICT"
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeInternal          ErrorType = "INTERNAL"
)

// Error is the typed failure every operation in the core returns. Message
// always names the offending path, hash or branch, never a bare generic
// error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is lets errors.Is match two typed errors by type alone, so callers can
// test against a sentinel without caring about the message.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Type == te.Type
	}
	return false
}

func NotFound(kind, key string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, key),
		Code:    http.StatusNotFound,
	}
}

func IntegrityMismatch(wantHash, gotHash string) *Error {
	return &Error{
		Type:    ErrorTypeIntegrityMismatch,
		Message: fmt.Sprintf("content hashed to %s, expected %s", gotHash, wantHash),
		Code:    http.StatusUnprocessableEntity,
	}
}

func NonFastForward(branch, expected, actual string) *Error {
	return &Error{
		Type:    ErrorTypeNonFastForward,
		Message: fmt.Sprintf("branch %s moved: expected %s, found %s", branch, short(expected), short(actual)),
		Code:    http.StatusConflict,
		Details: map[string]string{"branch": branch, "expected": expected, "actual": actual},
	}
}

func EmptyCommit(branch string) *Error {
	return &Error{
		Type:    ErrorTypeEmptyCommit,
		Message: fmt.Sprintf("nothing staged on %s, refusing to create an empty commit", branch),
		Code:    http.StatusBadRequest,
	}
}

func Conflict(path, reason string) *Error {
	return &Error{
		Type:    ErrorTypeConflict,
		Message: fmt.Sprintf("conflict on %s: %s", path, reason),
		Code:    http.StatusConflict,
	}
}

func Validation(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

// IsType reports whether err (or anything it wraps) is a typed error of
// the given type.
func IsType(err error, t ErrorType) bool {
	var te *Error
	return errors.As(err, &te) && te.Type == t
}

// StatusCode maps an error to the HTTP status the server layer should
// answer with.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return http.StatusInternalServerError
}

func short(id string) string {
	if id == "" {
		return "(none)"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
