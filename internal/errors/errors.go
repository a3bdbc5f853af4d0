// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies application errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeProcessing ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// Pipeline-specific types.
	ErrorTypeGenerationBlocked ErrorType = "generation_blocked" // prior level not perfect
	ErrorTypeBudgetExceeded    ErrorType = "budget_exceeded"    // pre-flight token check failed
	ErrorTypeBalanceRace       ErrorType = "balance_race"       // post-flight deduction would go negative
)

// AppError is the application error structure.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // user-facing error code
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error chaining.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError creates a processing error.
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeProcessing, message, originalError)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewGenerationBlockedError signals that the narrative hierarchy gate
// rejected an operation before any provider call was made.
func NewGenerationBlockedError(message string) *AppError {
	return NewAppError(ErrorTypeGenerationBlocked, message, nil)
}

// NewBudgetExceededError signals a failed pre-flight token check.
func NewBudgetExceededError(message string, available, estimated int) *AppError {
	return NewAppError(ErrorTypeBudgetExceeded,
		fmt.Sprintf("%s (available %d, estimated %d)", message, available, estimated), nil)
}

// NewBalanceRaceError signals a rejected post-flight deduction.
func NewBalanceRaceError(message string) *AppError {
	return NewAppError(ErrorTypeBalanceRace, message, nil)
}

// IsValidationError checks whether err is a validation error.
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsNotFoundError checks whether err is a not-found error.
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsConflictError checks whether err is a conflict error.
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsGenerationBlocked checks whether err is a hierarchy gate rejection.
func IsGenerationBlocked(err error) bool {
	return isType(err, ErrorTypeGenerationBlocked)
}

// IsBudgetExceeded checks whether err is a pre-flight budget rejection.
func IsBudgetExceeded(err error) bool {
	return isType(err, ErrorTypeBudgetExceeded)
}

// IsBalanceRace checks whether err is a rejected deduction.
func IsBalanceRace(err error) bool {
	return isType(err, ErrorTypeBalanceRace)
}

func isType(err error, t ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == t
	}
	return false
}

// generateErrorCode maps an error type to its user-facing code.
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeProcessing:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeGenerationBlocked:
		return "GENERATION_BLOCKED"
	case ErrorTypeBudgetExceeded:
		return "BUDGET_EXCEEDED"
	case ErrorTypeBalanceRace:
		return "BALANCE_RACE_REJECTED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError wraps an existing error, preserving an AppError's type.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
