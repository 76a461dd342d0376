package invoicing

import (
	"time"
)

// InvoiceStatus enumerates the upstream billing states the engine reads.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "draft"
	StatusSent          InvoiceStatus = "sent"
	StatusPaid          InvoiceStatus = "paid"
	StatusPartiallyPaid InvoiceStatus = "partially_paid"
	StatusCancelled     InvoiceStatus = "cancelled"
)

// EligibleForDispatch reports whether an invoice in this status may be
// turned into a dispatch. Cancelled invoices never ship.
func (s InvoiceStatus) EligibleForDispatch() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusPartiallyPaid:
		return true
	default:
		return false
	}
}

// Line is one billed item, carrying just the fields the dispatch engine
// copies.
type Line struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	SKU         string  `json:"sku,omitempty"`
	Unit        string  `json:"unit"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Invoice is the slice of an upstream invoice the engine consumes.
// Billing owns the full document; this package only reads it.
type Invoice struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"-"`
	InvoiceNumber   string        `json:"invoiceNumber"`
	Status          InvoiceStatus `json:"status"`
	CustomerName    string        `json:"customerName"`
	CustomerPhone   string        `json:"customerPhone,omitempty"`
	DeliveryAddress string        `json:"deliveryAddress,omitempty"`
	Lines           []Line        `json:"lines"`
	BalanceDue      float64       `json:"balanceDue"`
	DispatchSynced  bool          `json:"dispatchSynced"`
	CreatedAt       time.Time     `json:"createdAt"`
}
