package appointment

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

type notFoundError struct {
	entity string
}

func (e notFoundError) Error() string { return e.entity + " not found" }
func (e notFoundError) Unwrap() error { return ErrNotFound }

var (
	ErrAppointmentNotFound  error = notFoundError{entity: "appointment"}
	ErrDoctorNotFound       error = notFoundError{entity: "doctor"}
	ErrPatientNotFound      error = notFoundError{entity: "patient"}
	ErrNotificationNotFound error = notFoundError{entity: "notification"}
)

var (
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrSlotNoLongerAvailable   = errors.New("slot is no longer available")
	ErrRescheduleLimitExceeded = errors.New("reschedule limit exceeded")
	ErrAlreadyPaid             = errors.New("appointment is already paid")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrConflict                = errors.New("appointment was modified concurrently")
	ErrValidation              = errors.New("validation error")
)

// Kind is the stable, machine-checkable category of a failure.
type Kind string

const (
	KindNotFound                Kind = "not_found"
	KindInvalidTransition       Kind = "invalid_transition"
	KindSlotNoLongerAvailable   Kind = "slot_no_longer_available"
	KindRescheduleLimitExceeded Kind = "reschedule_limit_exceeded"
	KindAlreadyPaid             Kind = "already_paid"
	KindPaymentFailed           Kind = "payment_failed"
	KindConflict                Kind = "conflict"
	KindValidation              Kind = "validation_error"
	KindInternal                Kind = "internal"
)

// KindOf classifies err. Anything not in the taxonomy is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrSlotNoLongerAvailable):
		return KindSlotNoLongerAvailable
	case errors.Is(err, ErrRescheduleLimitExceeded):
		return KindRescheduleLimitExceeded
	case errors.Is(err, ErrAlreadyPaid):
		return KindAlreadyPaid
	case errors.Is(err, ErrPaymentFailed):
		return KindPaymentFailed
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// Invalid builds a validation error carrying a field-level message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
