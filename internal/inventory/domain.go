package inventory

import (
	"errors"
	"time"
)

// MovementKind enumerates ledger movements.
type MovementKind string

const (
	// MovementReceive is an inbound restock.
	MovementReceive MovementKind = "RECEIVE"
	// MovementReserve places a hold for an in-flight dispatch.
	MovementReserve MovementKind = "RESERVE"
	// MovementRelease returns a hold to available stock.
	MovementRelease MovementKind = "RELEASE"
	// MovementCommit consumes a hold permanently at delivery.
	MovementCommit MovementKind = "COMMIT"
	// MovementRestore reverses a commit. Compensation only.
	MovementRestore MovementKind = "RESTORE"
)

// Position summarises stock per product.
//
// Available quantity is always derived, never stored, so the
// available = total - reserved invariant cannot drift.
type Position struct {
	TenantID    string
	ProductID   string
	TotalQty    float64
	ReservedQty float64
	UpdatedAt   time.Time
}

// Available returns the quantity not held by in-flight dispatches.
func (p Position) Available() float64 {
	return p.TotalQty - p.ReservedQty
}

// Movement records one ledger mutation for the stock card.
type Movement struct {
	ID        int64
	TenantID  string
	ProductID string
	Kind      MovementKind
	Qty       float64
	RefKind   string
	RefID     string
	Note      string
	PostedAt  time.Time
}

// Line is one product/quantity pair inside a batch operation.
type Line struct {
	ProductID string
	Qty       float64
}

// ReceiveInput describes an inbound restock request.
type ReceiveInput struct {
	ProductID string
	Qty       float64
	Note      string
	ActorID   string
}

// ErrPositionNotFound indicates a missing position row.
var ErrPositionNotFound = errors.New("inventory position not found")

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
