// Package apperrors defines the error taxonomy shared by all services.
//
// Validation and not-found errors surface synchronously to the caller.
// Conflicts mean "already applied" and are treated as idempotent success by
// the operation guards. Insufficient stock is a business outcome that becomes
// a failure event, never an error across the broker. Transient errors are
// retried locally by whoever hit them.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrTransient         = errors.New("transient dependency failure")
)

// Assert panics when a storage invariant is broken. Counter corruption is a
// programming bug, not a business error, and must not be swallowed.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("invariant violation: "+format, args...))
	}
}
