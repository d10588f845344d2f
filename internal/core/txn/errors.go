package txn

import (
	"errors"
	"fmt"
)

// Error codes for the transaction engine.
const (
	// CodeIllegalState signals a propagation rule violation: MANDATORY
	// with no outer transaction, NEVER with one, completing the same
	// status twice, or resuming suspended resources out of order.
	CodeIllegalState = "ILLEGAL_TRANSACTION_STATE"

	// CodeUnexpectedRollback signals that a commit was requested but the
	// transaction had been marked rollback-only, so the work was NOT
	// durably applied even though the unit of work raised no error.
	CodeUnexpectedRollback = "UNEXPECTED_ROLLBACK"

	// CodeSystemFailure signals that the underlying resource manager
	// failed during begin/commit/rollback/savepoint handling.
	CodeSystemFailure = "TRANSACTION_SYSTEM_FAILURE"

	// CodeUndeclaredFailure signals that the unit of work returned an
	// error outside the declared rollback-triggering set.
	CodeUndeclaredFailure = "UNDECLARED_CALLBACK_FAILURE"
)

// Error is the standard error type for the transaction engine.
// It carries a machine-readable code, optional details and an optional
// underlying cause, and supports errors.Is/As via Unwrap.
type Error struct {
	// Code is a machine-readable error identifier
	Code string

	// Message is a human-readable error description
	Message string

	// Details contains additional context (definition name, savepoint, etc.)
	Details map[string]any

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewIllegalState creates an illegal-transaction-state error.
func NewIllegalState(message string) *Error {
	return &Error{
		Code:    CodeIllegalState,
		Message: message,
	}
}

// NewUnexpectedRollback creates an unexpected-rollback error. It is
// returned from commit when the transaction was rollback-only and the
// commit attempt was converted into a rollback.
func NewUnexpectedRollback(message string) *Error {
	return &Error{
		Code:    CodeUnexpectedRollback,
		Message: message,
	}
}

// NewSystemFailure wraps a resource manager failure. op names the failed
// resource operation ("begin", "commit", "rollback", "create savepoint", ...).
func NewSystemFailure(op string, err error) *Error {
	return &Error{
		Code:    CodeSystemFailure,
		Message: fmt.Sprintf("resource manager failed during %s", op),
		Err:     err,
	}
}

// NewUndeclaredFailure wraps an error the unit of work raised outside the
// declared rollback-triggering set.
func NewUndeclaredFailure(err error) *Error {
	return &Error{
		Code:    CodeUndeclaredFailure,
		Message: "transaction callback raised an undeclared failure",
		Err:     err,
	}
}

// --- Helper functions ---

// AsError extracts *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var txErr *Error
	if errors.As(err, &txErr) {
		return txErr, true
	}
	return nil, false
}

func hasCode(err error, code string) bool {
	if txErr, ok := AsError(err); ok {
		return txErr.Code == code
	}
	return false
}

// IsIllegalState checks if err is CodeIllegalState.
func IsIllegalState(err error) bool {
	return hasCode(err, CodeIllegalState)
}

// IsUnexpectedRollback checks if err is CodeUnexpectedRollback.
func IsUnexpectedRollback(err error) bool {
	return hasCode(err, CodeUnexpectedRollback)
}

// IsSystemFailure checks if err is CodeSystemFailure.
func IsSystemFailure(err error) bool {
	return hasCode(err, CodeSystemFailure)
}

// IsUndeclaredFailure checks if err is CodeUndeclaredFailure.
func IsUndeclaredFailure(err error) bool {
	return hasCode(err, CodeUndeclaredFailure)
}
