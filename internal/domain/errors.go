package domain

import (
	"errors"
	"fmt"
)

// ErrDelivery is the single delivery failure kind exposed by gateways.
var ErrDelivery = errors.New("delivery failed")

// DeliveryError wraps a provider failure (timeout, transport, non-success status).
// Params: wrapped root cause.
// Returns: error matching ErrDelivery through errors.Is.
type DeliveryError struct {
	Err error
}

// Error returns wrapped error message.
func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return ErrDelivery.Error()
	}
	return fmt.Sprintf("%s: %s", ErrDelivery.Error(), e.Err.Error())
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is matches ErrDelivery.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

// Delivery wraps err as delivery failure.
// Params: source error.
// Returns: wrapped error or nil.
func Delivery(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Err: err}
}

// ValidationError marks malformed or unauthenticated inbound payloads.
// Params: short machine reason and human message.
// Returns: client-error classification.
type ValidationError struct {
	Reason  string
	Message string
}

// Error returns validation message.
func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a validation error.
// Params: metric-safe reason and formatted message.
// Returns: *ValidationError.
func Invalid(reason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsValidation extracts validation error from chain.
// Params: candidate error.
// Returns: validation error and true when present.
func AsValidation(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
