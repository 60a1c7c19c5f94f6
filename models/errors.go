package models

import (
	"errors"
	"fmt"
)

// Stable error codes returned to the presentation layer.
const (
	CodeNotFound          = "NotFound"
	CodeForbidden         = "Forbidden"
	CodeInvalidTransition = "InvalidTransition"
	CodeConflict          = "Conflict"
	CodeAmountMismatch    = "AmountMismatch"
	CodeAmountExceedsHold = "AmountExceedsHold"
	CodeAlreadyFinal      = "AlreadyFinal"
	CodeDeadlinePassed    = "DeadlinePassed"
	CodeValidation        = "ValidationFailed"
)

// DomainError carries a stable code across engine and storage boundaries.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Code + ": " + e.Message
}

func Errf(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrNotFound        = &DomainError{Code: CodeNotFound, Message: "entity not found"}
	ErrForbidden       = &DomainError{Code: CodeForbidden, Message: "actor is not allowed to perform this action"}
	ErrVersionConflict = &DomainError{Code: CodeConflict, Message: "entity was modified concurrently"}
	ErrAlreadyFinal    = &DomainError{Code: CodeAlreadyFinal, Message: "entity is already in a final state"}
	ErrDeadlinePassed  = &DomainError{Code: CodeDeadlinePassed, Message: "deadline has passed"}
)

// CodeOf extracts the stable code from any error in the chain, defaulting to
// an internal marker for unclassified failures.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "Internal"
}
