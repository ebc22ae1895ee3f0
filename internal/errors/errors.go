// Package errors provides error codes and failure categories for the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a stable error code that can be surfaced to the UI layer.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase         ErrorCode = "DATABASE_ERROR"
	ErrMigration        ErrorCode = "MIGRATION_FAILED"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrStoreClosed      ErrorCode = "STORE_CLOSED"

	// Sync errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncConflict   ErrorCode = "SYNC_CONFLICT"
	ErrSyncTimeout    ErrorCode = "SYNC_TIMEOUT"
	ErrSyncTransport  ErrorCode = "SYNC_TRANSPORT"
	ErrSyncOffline    ErrorCode = "SYNC_OFFLINE"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"

	// Conflict resolution errors
	ErrConflictNotFound  ErrorCode = "CONFLICT_NOT_FOUND"
	ErrResolutionInvalid ErrorCode = "RESOLUTION_INVALID"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// =====================================================
// Failure categories
// =====================================================

// Category tells the submitter how to treat a failed send.
type Category int

const (
	// CategoryTransient failures are retried up to the retry ceiling.
	CategoryTransient Category = iota
	// CategoryPermanent failures are never retried; the record goes to error.
	CategoryPermanent
)

// CategorizedError pairs an error with its retry category.
type CategorizedError struct {
	Err      error
	Category Category
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// Categorize ensures every error carries a category, defaulting to transient.
// A send that failed without a classification cannot be told apart from a
// slow server, so it must stay retryable.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	var ce *CategorizedError
	if stderrors.As(err, &ce) {
		return err
	}
	return Transient(err)
}

// IsTransient reports whether err was categorized as transient.
func IsTransient(err error) bool {
	var ce *CategorizedError
	return stderrors.As(err, &ce) && ce.Category == CategoryTransient
}

// IsPermanent reports whether err was categorized as permanent.
func IsPermanent(err error) bool {
	var ce *CategorizedError
	return stderrors.As(err, &ce) && ce.Category == CategoryPermanent
}
