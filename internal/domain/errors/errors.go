package errors

import (
	"errors"
	"fmt"
)

var (
	// Record errors
	ErrRecordNotFound         = errors.New("payment record not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrDuplicateOrder         = errors.New("order id already exists")
	ErrTransactionBound       = errors.New("order already bound to another provider transaction")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAmountMismatch         = errors.New("amount mismatch")

	// Provider callback errors
	ErrUpstreamFailure = errors.New("provider reported failure")
	ErrInvalidAction   = errors.New("invalid action")
	ErrUnknownMethod   = errors.New("unknown method")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")

	// Feature gating
	ErrSimulateDisabled = errors.New("payment simulation is disabled")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
