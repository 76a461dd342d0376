package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Action enumerates workflow actions a caller can apply to a dispatch.
type Action string

const (
	ActionStartDispatch Action = "start_dispatch"
	ActionLoadGoods     Action = "load_goods"
	ActionStartTransit  Action = "start_transit"
	ActionMarkDelivered Action = "mark_delivered"
	ActionCancel        Action = "cancel"
)

// ParseAction validates an action string from the API.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionStartDispatch, ActionLoadGoods, ActionStartTransit, ActionMarkDelivered, ActionCancel:
		return Action(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", shared.ErrValidation, raw)
	}
}

// TransitionPayload carries action-specific input. Fields irrelevant to
// the requested action are ignored.
type TransitionPayload struct {
	Transporter       *Transporter `json:"transporter,omitempty"`
	EstimatedDelivery *time.Time   `json:"estimatedDelivery,omitempty"`
	Payment           *Payment     `json:"payment,omitempty"`

	LoadingImage string  `json:"loadingImage,omitempty"`
	PackageCount int     `json:"packageCount,omitempty"`
	TotalWeight  float64 `json:"totalWeight,omitempty"`
	Notes        string  `json:"notes,omitempty"`

	ReceiverName        string `json:"receiverName,omitempty"`
	ReceiverPhone       string `json:"receiverPhone,omitempty"`
	ReceiverDesignation string `json:"receiverDesignation,omitempty"`
	DeliveryCondition   string `json:"deliveryCondition,omitempty"`
	SignedReceiptImage  string `json:"signedReceiptImage,omitempty"`
	DeliveryNotes       string `json:"deliveryNotes,omitempty"`

	Reason  string `json:"reason,omitempty"`
	ActorID string `json:"actorId,omitempty"`
}

// checkTransition validates that action is applicable to the dispatch in
// its current state with the given payload. It never mutates anything;
// a nil return means apply* may proceed.
func checkTransition(d Dispatch, action Action, payload TransitionPayload) error {
	switch action {
	case ActionStartDispatch:
		if d.Status != StatusPending || d.Started() {
			return invalidTransition(d, action)
		}
		if payload.Transporter == nil || strings.TrimSpace(payload.Transporter.VehicleNumber) == "" {
			return shared.MissingField("transporter.vehicleNumber")
		}
	case ActionLoadGoods:
		if d.Status != StatusPending || !d.Started() {
			return invalidTransition(d, action)
		}
		if strings.TrimSpace(payload.LoadingImage) == "" {
			return shared.MissingField("loadingImage")
		}
		if len(d.Items) == 0 {
			return fmt.Errorf("%w: dispatch has no items to load", shared.ErrValidation)
		}
	case ActionStartTransit:
		if d.Status != StatusLoaded {
			return invalidTransition(d, action)
		}
		if d.LoadingImage == "" {
			return shared.MissingField("loadingImage")
		}
	case ActionMarkDelivered:
		if d.Status != StatusInTransit {
			return invalidTransition(d, action)
		}
		if strings.TrimSpace(payload.ReceiverName) == "" {
			return shared.MissingField("receiverName")
		}
		if strings.TrimSpace(payload.SignedReceiptImage) == "" {
			return shared.MissingField("signedReceiptImage")
		}
		switch payload.DeliveryCondition {
		case "", ConditionGood, ConditionPartial, ConditionDamaged:
		default:
			return fmt.Errorf("%w: deliveryCondition must be good, partial or damaged", shared.ErrValidation)
		}
	case ActionCancel:
		if d.Status.Terminal() {
			return invalidTransition(d, action)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", shared.ErrValidation, action)
	}
	return nil
}

func invalidTransition(d Dispatch, action Action) error {
	return fmt.Errorf("%w: cannot %s a dispatch in status %s", shared.ErrInvalidTransition, action, describeStatus(d))
}

func describeStatus(d Dispatch) string {
	if d.Status == StatusPending && d.Started() {
		return "pending (dispatch started)"
	}
	return string(d.Status)
}

// holdsReservation reports whether a dispatch currently has inventory
// reserved against it.
func holdsReservation(d Dispatch) bool {
	return d.Status == StatusLoaded || d.Status == StatusInTransit
}

// applyTransition mutates a copy of the dispatch for the given action.
// Validation must have passed already. Inventory and document side
// effects are handled by the service around this call.
func applyTransition(d Dispatch, action Action, payload TransitionPayload, now time.Time) Dispatch {
	entry := HistoryEntry{Action: action, At: now, ActorID: payload.ActorID}

	switch action {
	case ActionStartDispatch:
		t := *payload.Transporter
		d.Transporter = &t
		d.DispatchStartedAt = &now
		d.EstimatedDelivery = payload.EstimatedDelivery
		if payload.Payment != nil {
			p := *payload.Payment
			d.Payment = &p
		}
		entry.Status = StatusPending
		entry.Note = "transporter assigned: " + t.VehicleNumber
	case ActionLoadGoods:
		d.Status = StatusLoaded
		d.GoodsLoadedAt = &now
		d.LoadingImage = payload.LoadingImage
		d.PackageCount = payload.PackageCount
		d.TotalWeight = payload.TotalWeight
		if payload.Notes != "" {
			d.Notes = payload.Notes
		}
		entry.Status = StatusLoaded
	case ActionStartTransit:
		d.Status = StatusInTransit
		d.TransitStartedAt = &now
		entry.Status = StatusInTransit
	case ActionMarkDelivered:
		d.Status = StatusDelivered
		d.DeliveredAt = &now
		entry.Status = StatusDelivered
		entry.Note = "received by " + payload.ReceiverName
	case ActionCancel:
		d.Status = StatusCancelled
		entry.Status = StatusCancelled
		entry.Note = payload.Reason
	}

	d.StatusHistory = append(d.StatusHistory, entry)
	d.UpdatedAt = now
	return d
}
