// Package apperr holds the error types surfaced to API callers. Handlers map
// them to HTTP statuses with errors.As; everything else is an internal error.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed request field. Fields, when
// set, holds one message per offending field.
type ValidationError struct {
	Field   string
	Message string
	Fields  map[string]string
}

func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports an unknown phone, session or challenge.
type NotFoundError struct {
	Resource string
	Key      string
	Message  string
}

func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Resource + " not found"
}

// ExpiredError reports a stale OTP challenge.
type ExpiredError struct {
	Resource string
}

func (e *ExpiredError) Error() string {
	return e.Resource + " has expired"
}

// InsufficientBalanceError is returned when a deduction exceeds the balance.
// The balance is left untouched.
type InsufficientBalanceError struct {
	Current  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("Insufficient tokens: balance %d, required %d", e.Current, e.Required)
}

// UnauthorizedError reports a missing, invalid or revoked token.
type UnauthorizedError struct {
	Message string
}

func Unauthorized(message string) error {
	return &UnauthorizedError{Message: message}
}

func (e *UnauthorizedError) Error() string {
	return e.Message
}

// DeliveryError wraps a failure of the OTP delivery provider.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "failed to deliver OTP: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsExpired(err error) bool {
	var target *ExpiredError
	return errors.As(err, &target)
}

func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// AsInsufficientBalance unwraps err into an InsufficientBalanceError.
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var target *InsufficientBalanceError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
