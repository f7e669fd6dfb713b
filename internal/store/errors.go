// ABOUTME: Error taxonomy for the context store lifecycle and migration engine
// ABOUTME: Sentinels match with errors.Is; *Error carries a machine-readable code

package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the machine-readable code returned to callers.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeAlreadyDeleted     ErrorCode = "ALREADY_DELETED"
	CodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	CodeMigration          ErrorCode = "MIGRATION_ERROR"
	CodeStorage            ErrorCode = "STORAGE_ERROR"
)

// Sentinel errors, one per code.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyDeleted     = errors.New("already deleted")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrMigration          = errors.New("migration failed")
	ErrStorage            = errors.New("storage failure")
)

var sentinels = map[ErrorCode]error{
	CodeValidation:         ErrValidation,
	CodeNotFound:           ErrNotFound,
	CodeAlreadyDeleted:     ErrAlreadyDeleted,
	CodePreconditionFailed: ErrPreconditionFailed,
	CodeMigration:          ErrMigration,
	CodeStorage:            ErrStorage,
}

// Error is a structured store failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's code.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

// NewError builds a classified error for callers outside the store.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return NewError(CodeValidation, format, args...)
}

func notFoundError(format string, args ...any) *Error {
	return NewError(CodeNotFound, format, args...)
}

func alreadyDeletedError(format string, args ...any) *Error {
	return NewError(CodeAlreadyDeleted, format, args...)
}

func preconditionError(format string, args ...any) *Error {
	return NewError(CodePreconditionFailed, format, args...)
}

// storageError wraps a driver failure. Errors already classified pass through.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	msg := op
	if isConstraintViolation(err) {
		msg = op + " (constraint violation)"
	}
	return &Error{Code: CodeStorage, Message: msg, Err: err}
}

func migrationError(format string, err error, args ...any) *Error {
	return &Error{Code: CodeMigration, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code carried by err, or CodeStorage for unclassified errors.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeStorage
}

// Recoverable reports whether the caller can keep serving after err.
// Migration and storage failures are fatal during startup.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeAlreadyDeleted, CodePreconditionFailed:
		return true
	default:
		return false
	}
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
