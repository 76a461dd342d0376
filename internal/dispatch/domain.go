package dispatch

import (
	"time"
)

// Status enumerates dispatch lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLoaded    Status = "loaded"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// SourceType tells how a dispatch came into existence.
type SourceType string

const (
	SourceManual      SourceType = "manual"
	SourceInvoiceSync SourceType = "invoice_sync"
)

// Customer is the consignee of a dispatch.
type Customer struct {
	Name            string `json:"name"`
	Phone           string `json:"phone,omitempty"`
	DeliveryAddress string `json:"deliveryAddress,omitempty"`
}

// Item is one dispatched line. Immutable once goods are loaded.
type Item struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	SKU         string  `json:"sku,omitempty"`
	Unit        string  `json:"unit"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Transporter carries vehicle and driver details. Required from the
// start_dispatch action onward.
type Transporter struct {
	Name          string `json:"name,omitempty"`
	Company       string `json:"company,omitempty"`
	VehicleNumber string `json:"vehicleNumber"`
	DriverName    string `json:"driverName,omitempty"`
	DriverPhone   string `json:"driverPhone,omitempty"`
}

// Payment describes collection expected on delivery.
type Payment struct {
	Mode            string  `json:"mode,omitempty"`
	AmountToCollect float64 `json:"amountToCollect,omitempty"`
}

// Notification records the transit notice sent for a dispatch.
type Notification struct {
	Sent      bool       `json:"sent"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	MessageID string     `json:"messageId,omitempty"`
}

// HistoryEntry is one row of the dispatch status trail.
type HistoryEntry struct {
	Status  Status    `json:"status"`
	Action  Action    `json:"action"`
	At      time.Time `json:"at"`
	ActorID string    `json:"actorId,omitempty"`
	Note    string    `json:"note,omitempty"`
}

// Dispatch is one outbound shipment of goods to a customer.
type Dispatch struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"-"`
	DispatchNumber string         `json:"dispatchNumber"`
	SourceType     SourceType     `json:"sourceType"`
	InvoiceID      string         `json:"invoiceId,omitempty"`
	InvoiceNumber  string         `json:"invoiceNumber,omitempty"`
	Customer       Customer       `json:"customer"`
	Items          []Item         `json:"items"`
	Transporter    *Transporter   `json:"transporter,omitempty"`
	Payment        *Payment       `json:"payment,omitempty"`
	Status         Status         `json:"status"`
	StatusHistory  []HistoryEntry `json:"statusHistory"`

	DispatchStartedAt *time.Time `json:"dispatchStartedAt,omitempty"`
	GoodsLoadedAt     *time.Time `json:"goodsLoadedAt,omitempty"`
	TransitStartedAt  *time.Time `json:"transitStartedAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`

	LoadingImage      string       `json:"loadingImage,omitempty"`
	PackageCount      int          `json:"packageCount,omitempty"`
	TotalWeight       float64      `json:"totalWeight,omitempty"`
	Notes             string       `json:"notes,omitempty"`
	DeliveryReceiptID string       `json:"deliveryReceiptId,omitempty"`
	Notified          Notification `json:"whatsappNotification"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TotalValue is always derived from items, never stored separately.
func (d Dispatch) TotalValue() float64 {
	var total float64
	for _, item := range d.Items {
		total += item.Quantity * item.UnitPrice
	}
	return total
}

// Started reports whether start_dispatch has been applied.
func (d Dispatch) Started() bool {
	return d.DispatchStartedAt != nil
}

// WorkflowFlags tells the caller which actions the dispatch currently
// accepts, so clients need not duplicate transition rules.
type WorkflowFlags struct {
	CanStartDispatch        bool `json:"canStartDispatch"`
	CanLoadGoods            bool `json:"canLoadGoods"`
	CanMarkInTransit        bool `json:"canMarkInTransit"`
	CanMarkDelivered        bool `json:"canMarkDelivered"`
	CanCancel               bool `json:"canCancel"`
	RequiresLoadingImage    bool `json:"requiresLoadingImage"`
	RequiresDeliveryReceipt bool `json:"requiresDeliveryReceipt"`
}

// Flags derives the workflow flags from the current state.
func (d Dispatch) Flags() WorkflowFlags {
	return WorkflowFlags{
		CanStartDispatch:        d.Status == StatusPending && !d.Started(),
		CanLoadGoods:            d.Status == StatusPending && d.Started(),
		CanMarkInTransit:        d.Status == StatusLoaded,
		CanMarkDelivered:        d.Status == StatusInTransit,
		CanCancel:               !d.Status.Terminal(),
		RequiresLoadingImage:    d.Status == StatusPending && d.Started(),
		RequiresDeliveryReceipt: d.Status == StatusInTransit,
	}
}

// DeliveryCondition values accepted on mark_delivered.
const (
	ConditionGood    = "good"
	ConditionPartial = "partial"
	ConditionDamaged = "damaged"
)

// Challan is the immutable proof-of-loading snapshot.
type Challan struct {
	ChallanNumber   string    `json:"challanNumber"`
	DispatchID      string    `json:"dispatchId"`
	DispatchNumber  string    `json:"dispatchNumber"`
	InvoiceNumber   string    `json:"invoiceNumber,omitempty"`
	LoadedAt        time.Time `json:"loadedAt"`
	VehicleNumber   string    `json:"vehicleNumber"`
	DriverName      string    `json:"driverName,omitempty"`
	PackageCount    int       `json:"packageCount,omitempty"`
	Items           []Item    `json:"items"`
	TotalValue      float64   `json:"totalValue"`
	CustomerName    string    `json:"customerName"`
	DeliveryAddress string    `json:"deliveryAddress,omitempty"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// Receipt is the immutable proof-of-delivery snapshot.
type Receipt struct {
	ReceiptNumber       string    `json:"receiptNumber"`
	DispatchID          string    `json:"dispatchId"`
	CustomerName        string    `json:"customerName"`
	DeliveredAt         time.Time `json:"deliveredAt"`
	ReceiverName        string    `json:"receiverName"`
	ReceiverPhone       string    `json:"receiverPhone,omitempty"`
	ReceiverDesignation string    `json:"receiverDesignation,omitempty"`
	DeliveryCondition   string    `json:"deliveryCondition"`
	SignedReceiptImage  string    `json:"signedReceiptImage"`
	Items               []Item    `json:"items"`
	DeliveryNotes       string    `json:"deliveryNotes,omitempty"`
	GeneratedAt         time.Time `json:"generatedAt"`
}
