package ticketing

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSettlement marks a settlement attempt whose idempotency key
	// already produced a receipt. Callers treat it as success.
	ErrDuplicateSettlement = errors.New("duplicate settlement")
	// ErrConcurrencyConflict is returned when a conditional update matched no
	// rows because another request changed the row first.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrSeatInvariant means a release would push available seats past the
	// trip's total. It always indicates a caller bug.
	ErrSeatInvariant = errors.New("seat invariant violated")
)

// ValidationError is bad input rejected before any mutation.
type ValidationError struct {
	Field   string
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, reason, message string) error {
	return &ValidationError{Field: field, Reason: reason, Message: message}
}

// InsufficientSeats reports the seat count observed when a reservation
// could not be satisfied.
type InsufficientSeats struct {
	TripID    string
	Available int
	Requested int
}

func (e *InsufficientSeats) Error() string {
	return fmt.Sprintf("insufficient seats on trip %s: available=%d requested=%d", e.TripID, e.Available, e.Requested)
}

// PartialSettlementFailure is a settlement that mutated state and then
// failed. Compensation has already run when this is returned; CompensationErr
// is set only if the compensation itself failed.
type PartialSettlementFailure struct {
	Step            string
	Reference       string
	Cause           error
	CompensationErr error
}

func (e *PartialSettlementFailure) Error() string {
	msg := fmt.Sprintf("settlement %s failed at %s: %v", e.Reference, e.Step, e.Cause)
	if e.CompensationErr != nil {
		msg += fmt.Sprintf(" (compensation failed: %v)", e.CompensationErr)
	}
	return msg
}

func (e *PartialSettlementFailure) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
