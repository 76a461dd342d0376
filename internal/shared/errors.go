package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across modules. Handlers map these to HTTP status
// codes in platform/httpx.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates the dispatch is not in a state that
	// permits the requested action.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTransitionConflict indicates a concurrent transition won the race.
	ErrTransitionConflict = errors.New("transition conflict")
	// ErrInsufficientStock indicates available quantity is below the request.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReservationMismatch indicates reserved quantity does not cover a
	// commit. This is a bookkeeping defect, not a retryable condition.
	ErrReservationMismatch = errors.New("reservation mismatch")
	// ErrTenantRequired indicates a tenant-scoped call without a tenant id.
	ErrTenantRequired = errors.New("tenant id required")
)

// MissingFieldError reports a required field absent from a transition payload.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Unwrap lets errors.Is treat missing fields as validation failures.
func (e *MissingFieldError) Unwrap() error { return ErrValidation }

// MissingField builds a MissingFieldError.
func MissingField(field string) error {
	return &MissingFieldError{Field: field}
}

// StockError carries the product a ledger operation failed for.
type StockError struct {
	ProductID string
	Requested float64
	Available float64
	kind      error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: product %s (requested %.2f, available %.2f)", e.kind.Error(), e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return e.kind }

// InsufficientStock builds a StockError wrapping ErrInsufficientStock.
func InsufficientStock(productID string, requested, available float64) error {
	return &StockError{ProductID: productID, Requested: requested, Available: available, kind: ErrInsufficientStock}
}

// ReservationMismatch builds a StockError wrapping ErrReservationMismatch.
func ReservationMismatch(productID string, requested, reserved float64) error {
	return &StockError{ProductID: productID, Requested: requested, Available: reserved, kind: ErrReservationMismatch}
}

// UserSafeMessage returns an error message suitable for API clients,
// hiding internals for unexpected errors.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTransitionConflict),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrReservationMismatch),
		errors.Is(err, ErrTenantRequired):
		return err.Error()
	default:
		return "internal error"
	}
}
