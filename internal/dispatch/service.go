package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Create(ctx context.Context, d Dispatch) (Dispatch, error)
	Get(ctx context.Context, tenantID, id string) (Dispatch, error)
	FindByInvoiceID(ctx context.Context, tenantID, invoiceID string) (Dispatch, error)
	List(ctx context.Context, tenantID string, filters ListFilters) ([]Dispatch, int, error)
	CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error)
	NextNumber(ctx context.Context, tenantID, name, prefix string, width int) (string, error)
	GetChallan(ctx context.Context, tenantID, dispatchID string) (Challan, error)
	GetReceipt(ctx context.Context, tenantID, dispatchID string) (Receipt, error)
	MarkNotified(ctx context.Context, tenantID, dispatchID string, n Notification) error
}

// InventoryPort is the slice of the ledger the engine drives.
type InventoryPort interface {
	ReserveBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref) error
	ReleaseBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref)
	CommitBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref) error
	RestoreBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref)
}

// NotifierPort enqueues the fire-and-forget transit notice. force
// bypasses the worker's already-sent dedupe for operator resends.
type NotifierPort interface {
	EnqueueTransitNotice(ctx context.Context, tenantID, dispatchID string, force bool) error
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the dispatch lifecycle. Transitions on the same
// dispatch serialize on an in-process keyed mutex; the version column
// on the row guards against a second instance racing the same update.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	notifier  NotifierPort
	audit     AuditPort
	metrics   *observability.Metrics
	locks     *shared.KeyedMutex
	logger    *slog.Logger
}

// NewService builds Service. notifier, audit and metrics may be nil.
func NewService(repo RepositoryPort, inv InventoryPort, notifier NotifierPort, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		inventory: inv,
		notifier:  notifier,
		audit:     audit,
		metrics:   metrics,
		locks:     shared.NewKeyedMutex(),
		logger:    logger,
	}
}

// CreateInput describes a manually created dispatch.
type CreateInput struct {
	Customer Customer `json:"customer"`
	Items    []Item   `json:"items"`
	Payment  *Payment `json:"payment,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	ActorID  string   `json:"actorId,omitempty"`
}

// FromInvoiceInput describes a dispatch created by the sync scheduler.
type FromInvoiceInput struct {
	InvoiceID     string
	InvoiceNumber string
	Customer      Customer
	Items         []Item
	Payment       *Payment
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return shared.MissingField("items")
	}
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return shared.MissingField("items.productId")
		}
		if strings.TrimSpace(item.ProductName) == "" {
			return shared.MissingField("items.productName")
		}
		if item.Quantity <= 0 {
			return errors.Join(shared.ErrValidation, errors.New("item quantity must be positive"))
		}
		if item.UnitPrice < 0 {
			return errors.Join(shared.ErrValidation, errors.New("item unit price cannot be negative"))
		}
	}
	return nil
}

// Create builds a new pending dispatch on the manual path.
func (s *Service) Create(ctx context.Context, tenantID string, input CreateInput) (Dispatch, error) {
	if tenantID == "" {
		return Dispatch{}, shared.ErrTenantRequired
	}
	if strings.TrimSpace(input.Customer.Name) == "" {
		return Dispatch{}, shared.MissingField("customer.name")
	}
	if err := validateItems(input.Items); err != nil {
		return Dispatch{}, err
	}
	number, err := s.repo.NextNumber(ctx, tenantID, "dispatch", "DSP", 5)
	if err != nil {
		return Dispatch{}, err
	}
	now := time.Now().UTC()
	d := Dispatch{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		DispatchNumber: number,
		SourceType:     SourceManual,
		Customer:       input.Customer,
		Items:          input.Items,
		Payment:        input.Payment,
		Status:         StatusPending,
		Notes:          input.Notes,
		StatusHistory: []HistoryEntry{
			{Status: StatusPending, At: now, ActorID: input.ActorID, Note: "dispatch created"},
		},
	}
	created, err := s.repo.Create(ctx, d)
	if err != nil {
		return Dispatch{}, err
	}
	s.recordAudit(ctx, tenantID, input.ActorID, "dispatch:create", created.ID, map[string]any{"dispatchNumber": number})
	return created, nil
}

// CreateFromInvoice creates a pending dispatch for an invoice unless one
// already exists. The second return value reports whether a row was
// created. Idempotent by invoice id.
func (s *Service) CreateFromInvoice(ctx context.Context, tenantID string, input FromInvoiceInput) (Dispatch, bool, error) {
	if tenantID == "" {
		return Dispatch{}, false, shared.ErrTenantRequired
	}
	if input.InvoiceID == "" {
		return Dispatch{}, false, shared.MissingField("invoiceId")
	}
	if existing, err := s.repo.FindByInvoiceID(ctx, tenantID, input.InvoiceID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Dispatch{}, false, err
	}
	if err := validateItems(input.Items); err != nil {
		return Dispatch{}, false, err
	}
	number, err := s.repo.NextNumber(ctx, tenantID, "dispatch", "DSP", 5)
	if err != nil {
		return Dispatch{}, false, err
	}
	now := time.Now().UTC()
	d := Dispatch{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		DispatchNumber: number,
		SourceType:     SourceInvoiceSync,
		InvoiceID:      input.InvoiceID,
		InvoiceNumber:  input.InvoiceNumber,
		Customer:       input.Customer,
		Items:          input.Items,
		Payment:        input.Payment,
		Status:         StatusPending,
		StatusHistory: []HistoryEntry{
			{Status: StatusPending, At: now, Note: "created from invoice " + input.InvoiceNumber},
		},
	}
	created, err := s.repo.Create(ctx, d)
	if err != nil {
		if errors.Is(err, ErrDuplicateInvoice) {
			// Lost a race with a concurrent sync tick. The winner's row
			// is the dispatch for this invoice.
			existing, lookupErr := s.repo.FindByInvoiceID(ctx, tenantID, input.InvoiceID)
			if lookupErr != nil {
				return Dispatch{}, false, lookupErr
			}
			return existing, false, nil
		}
		return Dispatch{}, false, err
	}
	return created, true, nil
}

// Get fetches one dispatch.
func (s *Service) Get(ctx context.Context, tenantID, id string) (Dispatch, error) {
	if tenantID == "" {
		return Dispatch{}, shared.ErrTenantRequired
	}
	return s.repo.Get(ctx, tenantID, id)
}

// List returns dispatches for a tenant.
func (s *Service) List(ctx context.Context, tenantID string, filters ListFilters) ([]Dispatch, int, error) {
	if tenantID == "" {
		return nil, 0, shared.ErrTenantRequired
	}
	return s.repo.List(ctx, tenantID, filters)
}

// Stats returns dispatch counts per status for list dashboards.
func (s *Service) Stats(ctx context.Context, tenantID string) (map[Status]int, error) {
	if tenantID == "" {
		return nil, shared.ErrTenantRequired
	}
	return s.repo.CountByStatus(ctx, tenantID)
}

// RequestNotification enqueues the transit notice outside the automatic
// start_transit path, for resends from the dispatch screen. Only sensible
// once the goods are on the road.
func (s *Service) RequestNotification(ctx context.Context, tenantID, dispatchID string) error {
	if tenantID == "" {
		return shared.ErrTenantRequired
	}
	if s.notifier == nil {
		return errors.New("dispatch: notifier not configured")
	}
	d, err := s.repo.Get(ctx, tenantID, dispatchID)
	if err != nil {
		return err
	}
	if d.Status != StatusInTransit && d.Status != StatusDelivered {
		return errors.Join(shared.ErrInvalidTransition, errors.New("notification requires an in_transit or delivered dispatch"))
	}
	return s.notifier.EnqueueTransitNotice(ctx, tenantID, dispatchID, true)
}

// GetChallan returns the challan generated at load_goods.
func (s *Service) GetChallan(ctx context.Context, tenantID, dispatchID string) (Challan, error) {
	if tenantID == "" {
		return Challan{}, shared.ErrTenantRequired
	}
	return s.repo.GetChallan(ctx, tenantID, dispatchID)
}

// GetReceipt returns the delivery receipt generated at mark_delivered.
func (s *Service) GetReceipt(ctx context.Context, tenantID, dispatchID string) (Receipt, error) {
	if tenantID == "" {
		return Receipt{}, shared.ErrTenantRequired
	}
	return s.repo.GetReceipt(ctx, tenantID, dispatchID)
}

// MarkNotified records the outcome of the transit notice. Called by the
// notification worker, not the transition path.
func (s *Service) MarkNotified(ctx context.Context, tenantID, dispatchID string, n Notification) error {
	return s.repo.MarkNotified(ctx, tenantID, dispatchID, n)
}

// ApplyTransition validates and applies a workflow action. All-or-nothing:
// a failed transition leaves the dispatch, its documents and the inventory
// ledger exactly as they were.
func (s *Service) ApplyTransition(ctx context.Context, tenantID, dispatchID string, action Action, payload TransitionPayload) (Dispatch, error) {
	if tenantID == "" {
		return Dispatch{}, shared.ErrTenantRequired
	}

	key := shared.DispatchLockKey(tenantID, dispatchID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	d, err := s.repo.Get(ctx, tenantID, dispatchID)
	if err != nil {
		s.metrics.ObserveTransition(string(action), "error")
		return Dispatch{}, err
	}
	if err := checkTransition(d, action, payload); err != nil {
		s.metrics.ObserveTransition(string(action), "rejected")
		return Dispatch{}, err
	}

	now := time.Now().UTC()
	next := applyTransition(d, action, payload, now)

	switch action {
	case ActionLoadGoods:
		err = s.applyLoadGoods(ctx, d, &next)
	case ActionMarkDelivered:
		err = s.applyMarkDelivered(ctx, d, &next, payload)
	case ActionCancel:
		err = s.applyCancel(ctx, d, next)
	default:
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateDispatch(ctx, next)
		})
	}
	if err != nil {
		s.metrics.ObserveTransition(string(action), "error")
		return Dispatch{}, err
	}
	next.Version = d.Version + 1

	if action == ActionStartTransit && s.notifier != nil {
		// Fire and forget: a failed enqueue never rolls back the transition.
		if err := s.notifier.EnqueueTransitNotice(ctx, tenantID, dispatchID, false); err != nil {
			s.logger.Error("enqueue transit notice", slog.String("dispatch_id", dispatchID), slog.Any("error", err))
			s.metrics.ObserveNotification("enqueue_failed")
		}
	}

	s.metrics.ObserveTransition(string(action), "ok")
	s.recordAudit(ctx, tenantID, payload.ActorID, "dispatch:"+string(action), dispatchID, map[string]any{
		"from": string(d.Status), "to": string(next.Status),
	})
	return next, nil
}

// applyLoadGoods reserves stock for every line, then persists the
// transition and challan together. Losing the version race releases the
// reservation again so no hold leaks.
func (s *Service) applyLoadGoods(ctx context.Context, prev Dispatch, next *Dispatch) error {
	lines := ledgerLines(prev.Items)
	ref := inventory.Ref{Kind: "dispatch", ID: prev.ID}
	if err := s.inventory.ReserveBatch(ctx, prev.TenantID, lines, ref); err != nil {
		return err
	}

	err := func() error {
		number, err := s.repo.NextNumber(ctx, prev.TenantID, "challan", "DC", 6)
		if err != nil {
			return err
		}
		ch, err := BuildChallan(*next, number, time.Now().UTC())
		if err != nil {
			return err
		}
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateDispatch(ctx, *next); err != nil {
				return err
			}
			return tx.InsertChallan(ctx, prev.TenantID, ch)
		})
	}()
	if err != nil {
		s.inventory.ReleaseBatch(ctx, prev.TenantID, lines, ref)
		return err
	}
	return nil
}

// applyMarkDelivered consumes the reservation first so a mismatch aborts
// before any dispatch mutation, then persists the transition and receipt.
// Losing the version race restores the consumed stock.
func (s *Service) applyMarkDelivered(ctx context.Context, prev Dispatch, next *Dispatch, payload TransitionPayload) error {
	lines := ledgerLines(prev.Items)
	ref := inventory.Ref{Kind: "dispatch", ID: prev.ID}
	if err := s.inventory.CommitBatch(ctx, prev.TenantID, lines, ref); err != nil {
		return err
	}

	err := func() error {
		number, err := s.repo.NextNumber(ctx, prev.TenantID, "receipt", "DR", 6)
		if err != nil {
			return err
		}
		rc, err := BuildReceipt(*next, payload, number, time.Now().UTC())
		if err != nil {
			return err
		}
		next.DeliveryReceiptID = rc.ReceiptNumber
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateDispatch(ctx, *next); err != nil {
				return err
			}
			return tx.InsertReceipt(ctx, prev.TenantID, rc)
		})
	}()
	if err != nil {
		s.inventory.RestoreBatch(ctx, prev.TenantID, lines, ref)
		return err
	}
	return nil
}

// applyCancel persists the cancellation, then returns any held
// reservation. Release is floored at zero so replays cannot over-release.
func (s *Service) applyCancel(ctx context.Context, prev Dispatch, next Dispatch) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDispatch(ctx, next)
	})
	if err != nil {
		return err
	}
	if holdsReservation(prev) {
		s.inventory.ReleaseBatch(ctx, prev.TenantID, ledgerLines(prev.Items), inventory.Ref{Kind: "dispatch_cancel", ID: prev.ID})
	}
	return nil
}

func ledgerLines(items []Item) []inventory.Line {
	lines := make([]inventory.Line, len(items))
	for i, item := range items {
		lines[i] = inventory.Line{ProductID: item.ProductID, Qty: item.Quantity}
	}
	return lines
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "dispatch",
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Error("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
