package ads

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("ads: not found")
	ErrForbidden      = errors.New("ads: account may not advertise")
	ErrUnverified     = errors.New("ads: business status is not verified")
	ErrNotOwner       = errors.New("ads: advertisement belongs to another account")
	ErrNotActive      = errors.New("ads: advertisement is not active")
	ErrPaymentClosed  = errors.New("ads: payment is no longer pending")
	ErrJumpLimit      = errors.New("ads: daily manual jump limit reached")
	ErrEditLimit      = errors.New("ads: edit limit reached")
	ErrInvalidCreditN = errors.New("ads: credit grant must be positive")
)

// Capacity reasons.
const (
	ReasonFreeTierHeld       = "free_tier_held"
	ReasonPaidCapReached     = "paid_cap_reached"
	ReasonSoldOut            = "sold_out"
	ReasonInsufficientCredit = "insufficient_credit"
)

// ValidationError is malformed or policy-violating input, detected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ads: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CapacityError means the account or the tier has no room for another ad.
type CapacityError struct {
	Reason string
}

func (e *CapacityError) Error() string {
	switch e.Reason {
	case ReasonFreeTierHeld:
		return "ads: account already holds an active free ad"
	case ReasonPaidCapReached:
		return "ads: account holds the maximum number of paid ads"
	case ReasonSoldOut:
		return "ads: tier is sold out"
	case ReasonInsufficientCredit:
		return "ads: no free-ad credit available"
	}
	return "ads: capacity exceeded: " + e.Reason
}

func capacity(reason string) error {
	return &CapacityError{Reason: reason}
}

// TransientError is a datastore failure inside an atomic write. Nothing was
// persisted and the call may be retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ads: %s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Classify maps err to a stable error code and HTTP status.
func Classify(err error) (code string, status int) {
	var (
		ve *ValidationError
		ce *CapacityError
		te *TransientError
	)
	switch {
	case errors.As(err, &ve):
		return "validation_error", http.StatusBadRequest
	case errors.As(err, &ce):
		return ce.Reason, http.StatusConflict
	case errors.As(err, &te):
		return "transient_error", http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotOwner):
		return "forbidden", http.StatusForbidden
	case errors.Is(err, ErrUnverified):
		return "unverified", http.StatusForbidden
	case errors.Is(err, ErrNotActive), errors.Is(err, ErrPaymentClosed):
		return "invalid_state", http.StatusConflict
	case errors.Is(err, ErrJumpLimit):
		return "jump_limit", http.StatusTooManyRequests
	case errors.Is(err, ErrEditLimit):
		return "edit_limit", http.StatusConflict
	case errors.Is(err, ErrInvalidCreditN):
		return "validation_error", http.StatusBadRequest
	default:
		return "internal_error", http.StatusInternalServerError
	}
}
