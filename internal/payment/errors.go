package payment

import "errors"

var (
	// ErrValidation reports bad local input detected before any network call.
	ErrValidation = errors.New("payment: validation failed")
	// ErrTransport covers connection failures, timeouts, an open breaker and non-2xx replies.
	ErrTransport = errors.New("payment: transport failure")
	// ErrInvalidResponse is returned for empty or non-object JSON bodies.
	ErrInvalidResponse = errors.New("payment: invalid processor response")
	// ErrOrderNotFound is returned when a notification or checkout names an unknown order.
	ErrOrderNotFound = errors.New("payment: order not found")
	// ErrVerificationMismatch marks a "Completed" notification the processor did not confirm.
	ErrVerificationMismatch = errors.New("payment: verification mismatch")
)
