// Package buserr defines the error taxonomy shared across the bus.
// Validation errors surface synchronously to callers; transport and delivery
// errors are absorbed into event/attempt status and never reach the producer.
package buserr

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed publish/subscribe input. Nothing is
// persisted when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a named field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError marks an unknown event or subscription id.
type NotFoundError struct {
	Kind string // "event" or "subscription"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransportError wraps a broker failure. The durable record is already
// written when one occurs; recovery redelivers later.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeliveryError records a failed subscriber callback. Retried per backoff
// policy until dead-lettered.
type DeliveryError struct {
	HTTPStatus int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery: %v", e.Err)
	}
	return fmt.Sprintf("delivery: http %d", e.HTTPStatus)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
