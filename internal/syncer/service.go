package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DispatchPort is the slice of the dispatch engine the syncer drives.
type DispatchPort interface {
	CreateFromInvoice(ctx context.Context, tenantID string, input dispatch.FromInvoiceInput) (dispatch.Dispatch, bool, error)
}

// Result summarises one sync pass.
type Result struct {
	Synced       int        `json:"synced"`
	PendingCount int        `json:"pendingCount"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
}

// Status is the scheduler state reported to API callers.
type Status struct {
	PendingCount    int        `json:"pendingCount"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
	LastSyncCount   int        `json:"lastSyncCount"`
	AutoSyncEnabled bool       `json:"autoSyncEnabled"`
	IntervalMs      int64      `json:"intervalMs"`
}

// Service reconciles pending invoices into dispatch records. Manual and
// scheduled sync share the same pass; a singleflight group collapses
// concurrent requests for the same tenant into one pass.
type Service struct {
	source     invoicing.Source
	dispatches DispatchPort
	configs    ConfigStore
	metrics    *observability.Metrics
	logger     *slog.Logger
	group      singleflight.Group
}

// NewService builds Service. metrics may be nil.
func NewService(source invoicing.Source, dispatches DispatchPort, configs ConfigStore, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:     source,
		dispatches: dispatches,
		configs:    configs,
		metrics:    metrics,
		logger:     logger,
	}
}

// SyncTenant runs one reconciliation pass for a tenant. Safe to invoke
// concurrently; duplicate callers share the in-flight pass.
func (s *Service) SyncTenant(ctx context.Context, tenantID string) (Result, error) {
	if tenantID == "" {
		return Result{}, shared.ErrTenantRequired
	}
	v, err, _ := s.group.Do("sync:"+tenantID, func() (any, error) {
		return s.runPass(ctx, tenantID, nil)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// SyncInvoices reconciles a caller-chosen subset of invoices.
func (s *Service) SyncInvoices(ctx context.Context, tenantID string, invoiceIDs []string) (Result, error) {
	if tenantID == "" {
		return Result{}, shared.ErrTenantRequired
	}
	if len(invoiceIDs) == 0 {
		return s.SyncTenant(ctx, tenantID)
	}
	return s.runPass(ctx, tenantID, invoiceIDs)
}

// runPass creates a dispatch for every eligible unsynced invoice, then
// acknowledges each invoice whose dispatch durably exists. An existing
// dispatch with a missing acknowledgment (a crash between create and
// ack on a previous pass) is re-acknowledged here, never re-created.
func (s *Service) runPass(ctx context.Context, tenantID string, invoiceIDs []string) (Result, error) {
	invoices, err := s.collect(ctx, tenantID, invoiceIDs)
	if err != nil {
		s.metrics.ObserveSyncTick("error", 0)
		return Result{}, err
	}

	var created int
	for _, inv := range invoices {
		if !inv.Status.EligibleForDispatch() || inv.DispatchSynced {
			continue
		}
		_, isNew, err := s.dispatches.CreateFromInvoice(ctx, tenantID, fromInvoice(inv))
		if err != nil {
			// One bad invoice must not starve the rest of the batch.
			s.logger.Error("sync invoice",
				slog.String("tenant_id", tenantID),
				slog.String("invoice_id", inv.ID),
				slog.Any("error", err))
			continue
		}
		if isNew {
			created++
		}
		// Ack only after the dispatch durably exists. A failed ack is
		// retried on the next pass through the existing-dispatch path.
		if err := s.source.MarkSynced(ctx, tenantID, inv.ID); err != nil {
			s.logger.Error("mark invoice synced",
				slog.String("tenant_id", tenantID),
				slog.String("invoice_id", inv.ID),
				slog.Any("error", err))
		}
	}

	now := time.Now().UTC()
	if err := s.configs.RecordRun(ctx, tenantID, now, created); err != nil {
		s.logger.Error("record sync run", slog.String("tenant_id", tenantID), slog.Any("error", err))
	}

	pending, err := s.source.CountPending(ctx, tenantID)
	if err != nil {
		s.logger.Error("count pending invoices", slog.String("tenant_id", tenantID), slog.Any("error", err))
	}

	s.metrics.ObserveSyncTick("ok", created)
	return Result{Synced: created, PendingCount: pending, LastSyncAt: &now}, nil
}

func (s *Service) collect(ctx context.Context, tenantID string, invoiceIDs []string) ([]invoicing.Invoice, error) {
	if len(invoiceIDs) == 0 {
		return s.source.ListPending(ctx, tenantID, 0)
	}
	invoices := make([]invoicing.Invoice, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		inv, err := s.source.Get(ctx, tenantID, id)
		if err != nil {
			return nil, fmt.Errorf("get invoice %s: %w", id, err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// GetStatus reports scheduler state plus the live pending count.
func (s *Service) GetStatus(ctx context.Context, tenantID string) (Status, error) {
	if tenantID == "" {
		return Status{}, shared.ErrTenantRequired
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return Status{}, err
	}
	pending, err := s.source.CountPending(ctx, tenantID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		PendingCount:    pending,
		LastSyncAt:      cfg.LastSyncAt,
		LastSyncCount:   cfg.LastSyncCount,
		AutoSyncEnabled: cfg.AutoSyncEnabled,
		IntervalMs:      cfg.Interval.Milliseconds(),
	}, nil
}

// SetAutoSync toggles the scheduler for a tenant. Disabling stops future
// ticks without touching in-flight dispatches.
func (s *Service) SetAutoSync(ctx context.Context, tenantID string, enabled bool, interval time.Duration) (Config, error) {
	if tenantID == "" {
		return Config{}, shared.ErrTenantRequired
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return Config{}, err
	}
	cfg.TenantID = tenantID
	cfg.AutoSyncEnabled = enabled
	if interval > 0 {
		cfg.Interval = interval
	}
	if err := s.configs.Put(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromInvoice(inv invoicing.Invoice) dispatch.FromInvoiceInput {
	items := make([]dispatch.Item, len(inv.Lines))
	for i, line := range inv.Lines {
		items[i] = dispatch.Item{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Unit:        line.Unit,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		}
	}
	input := dispatch.FromInvoiceInput{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Customer: dispatch.Customer{
			Name:            inv.CustomerName,
			Phone:           inv.CustomerPhone,
			DeliveryAddress: inv.DeliveryAddress,
		},
		Items: items,
	}
	if inv.BalanceDue > 0 {
		input.Payment = &dispatch.Payment{Mode: "cash_on_delivery", AmountToCollect: inv.BalanceDue}
	}
	return input
}
