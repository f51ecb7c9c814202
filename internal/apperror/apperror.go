package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrPaymentVerification = errors.New("payment verification failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGateway             = errors.New("payment gateway error")
	ErrPayoutGateway       = errors.New("payout gateway error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Detail  string // Optional: operator diagnostic, logged but never sent to clients
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned for bad credentials and missing sessions.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func PaymentVerificationFailed(message string) *AppError {
	return &AppError{
		Err:     ErrPaymentVerification,
		Message: message,
	}
}

func InsufficientBalance(requested, available string) *AppError {
	return &AppError{
		Err:     ErrInsufficientBalance,
		Message: fmt.Sprintf("insufficient balance: requested %s, available %s", requested, available),
	}
}

// Gateway wraps an upstream failure. detail is for logs only.
func Gateway(message, detail string) *AppError {
	return &AppError{
		Err:     ErrGateway,
		Message: message,
		Detail:  detail,
	}
}

// PayoutGateway wraps a failed contact, fund account or payout call.
func PayoutGateway(message, detail string) *AppError {
	return &AppError{
		Err:     ErrPayoutGateway,
		Message: message,
		Detail:  detail,
	}
}
