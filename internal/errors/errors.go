// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidCredentialFormat = errors.New("invalid credential format")
	ErrAuthRejected            = errors.New("authentication rejected")
	ErrSessionExpired          = errors.New("session expired")
	ErrNotAuthenticated        = errors.New("not authenticated")
	ErrInvalidOrderSpec        = errors.New("invalid order spec")
	ErrOrderNotCancellable     = errors.New("order not cancellable")
	ErrOrderNotFound           = errors.New("order not found")
	ErrContractNotFound        = errors.New("contract not found")
	ErrSubmitFailed            = errors.New("order submit failed")
	ErrTransport               = errors.New("transport error")
	ErrInvalidState            = errors.New("invalid session state")
	ErrConfigInvalid           = errors.New("invalid configuration")
	ErrDataNotFound            = errors.New("data not found")
)

// BrokerError represents an error returned by the brokerage API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{Code: code, Message: message, Err: err}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	LocalID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.LocalID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.LocalID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(localID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{LocalID: localID, Symbol: symbol, Action: action, Reason: reason, Err: err}
}

// ValidationError represents a local validation failure. It never reaches
// the network; validation errors are reported synchronously to the caller.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError wrapping the given sentinel.
func NewValidationError(field string, value interface{}, message string, sentinel error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message, Err: sentinel}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
