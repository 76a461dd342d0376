package dispatch

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// BuildChallan snapshots a dispatch into a proof-of-loading document.
// Items and customer data are copied by value, so later changes to the
// dispatch never show through. Valid once goods are loaded.
func BuildChallan(d Dispatch, challanNumber string, generatedAt time.Time) (Challan, error) {
	switch d.Status {
	case StatusLoaded, StatusInTransit, StatusDelivered:
	default:
		return Challan{}, fmt.Errorf("%w: challan requires loaded goods, dispatch is %s", shared.ErrInvalidTransition, d.Status)
	}
	if d.GoodsLoadedAt == nil {
		return Challan{}, fmt.Errorf("%w: dispatch has no loading timestamp", shared.ErrValidation)
	}
	ch := Challan{
		ChallanNumber:   challanNumber,
		DispatchID:      d.ID,
		DispatchNumber:  d.DispatchNumber,
		InvoiceNumber:   d.InvoiceNumber,
		LoadedAt:        *d.GoodsLoadedAt,
		PackageCount:    d.PackageCount,
		Items:           copyItems(d.Items),
		TotalValue:      d.TotalValue(),
		CustomerName:    d.Customer.Name,
		DeliveryAddress: d.Customer.DeliveryAddress,
		GeneratedAt:     generatedAt,
	}
	if d.Transporter != nil {
		ch.VehicleNumber = d.Transporter.VehicleNumber
		ch.DriverName = d.Transporter.DriverName
	}
	return ch, nil
}

// BuildReceipt snapshots a delivered dispatch plus the delivery payload
// into a proof-of-delivery document.
func BuildReceipt(d Dispatch, payload TransitionPayload, receiptNumber string, generatedAt time.Time) (Receipt, error) {
	if d.Status != StatusDelivered {
		return Receipt{}, fmt.Errorf("%w: receipt requires a delivered dispatch, got %s", shared.ErrInvalidTransition, d.Status)
	}
	if d.DeliveredAt == nil {
		return Receipt{}, fmt.Errorf("%w: dispatch has no delivery timestamp", shared.ErrValidation)
	}
	if payload.ReceiverName == "" {
		return Receipt{}, shared.MissingField("receiverName")
	}
	if payload.SignedReceiptImage == "" {
		return Receipt{}, shared.MissingField("signedReceiptImage")
	}
	condition := payload.DeliveryCondition
	if condition == "" {
		condition = ConditionGood
	}
	return Receipt{
		ReceiptNumber:       receiptNumber,
		DispatchID:          d.ID,
		CustomerName:        d.Customer.Name,
		DeliveredAt:         *d.DeliveredAt,
		ReceiverName:        payload.ReceiverName,
		ReceiverPhone:       payload.ReceiverPhone,
		ReceiverDesignation: payload.ReceiverDesignation,
		DeliveryCondition:   condition,
		SignedReceiptImage:  payload.SignedReceiptImage,
		Items:               copyItems(d.Items),
		DeliveryNotes:       payload.DeliveryNotes,
		GeneratedAt:         generatedAt,
	}, nil
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
