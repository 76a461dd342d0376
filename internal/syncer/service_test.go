package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/dispatch"
	"github.com/meridian-erp/meridian-erp/internal/invoicing"
)

type fakeSource struct {
	mu       sync.Mutex
	invoices map[string]invoicing.Invoice
	ackFail  bool
	acks     int
}

func newFakeSource() *fakeSource {
	return &fakeSource{invoices: map[string]invoicing.Invoice{}}
}

func (f *fakeSource) add(inv invoicing.Invoice) {
	f.invoices[inv.ID] = inv
}

func (f *fakeSource) ListPending(ctx context.Context, tenantID string, limit int) ([]invoicing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []invoicing.Invoice{}
	for _, inv := range f.invoices {
		if inv.TenantID == tenantID && !inv.DispatchSynced && inv.Status.EligibleForDispatch() {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeSource) Get(ctx context.Context, tenantID, invoiceID string) (invoicing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return invoicing.Invoice{}, errors.New("invoice not found")
	}
	return inv, nil
}

func (f *fakeSource) CountPending(ctx context.Context, tenantID string) (int, error) {
	pending, err := f.ListPending(ctx, tenantID, 0)
	return len(pending), err
}

func (f *fakeSource) MarkSynced(ctx context.Context, tenantID, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackFail {
		return errors.New("adapter unavailable")
	}
	inv := f.invoices[invoiceID]
	inv.DispatchSynced = true
	f.invoices[invoiceID] = inv
	f.acks++
	return nil
}

type fakeDispatches struct {
	mu        sync.Mutex
	byInvoice map[string]dispatch.Dispatch
	created   int
}

func newFakeDispatches() *fakeDispatches {
	return &fakeDispatches{byInvoice: map[string]dispatch.Dispatch{}}
}

func (f *fakeDispatches) CreateFromInvoice(ctx context.Context, tenantID string, input dispatch.FromInvoiceInput) (dispatch.Dispatch, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byInvoice[input.InvoiceID]; ok {
		return existing, false, nil
	}
	d := dispatch.Dispatch{
		ID:         "d-" + input.InvoiceID,
		TenantID:   tenantID,
		SourceType: dispatch.SourceInvoiceSync,
		InvoiceID:  input.InvoiceID,
		Customer:   input.Customer,
		Items:      input.Items,
		Status:     dispatch.StatusPending,
	}
	f.byInvoice[input.InvoiceID] = d
	f.created++
	return d, true, nil
}

type memoryConfigs struct {
	mu      sync.Mutex
	configs map[string]Config
}

func newMemoryConfigs() *memoryConfigs {
	return &memoryConfigs{configs: map[string]Config{}}
}

func (m *memoryConfigs) Get(ctx context.Context, tenantID string) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[tenantID]
	if !ok {
		return Config{TenantID: tenantID, AutoSyncEnabled: true, Interval: 3 * time.Second}, nil
	}
	return cfg, nil
}

func (m *memoryConfigs) Put(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.TenantID] = cfg
	return nil
}

func (m *memoryConfigs) RecordRun(ctx context.Context, tenantID string, at time.Time, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.configs[tenantID]
	cfg.TenantID = tenantID
	cfg.LastSyncAt = &at
	cfg.LastSyncCount = count
	m.configs[tenantID] = cfg
	return nil
}

func (m *memoryConfigs) ListEnabled(ctx context.Context) ([]Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Config{}
	for _, cfg := range m.configs {
		if cfg.AutoSyncEnabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func pendingInvoice(id string) invoicing.Invoice {
	return invoicing.Invoice{
		ID:            id,
		TenantID:      "t1",
		InvoiceNumber: "INV-" + id,
		Status:        invoicing.StatusSent,
		CustomerName:  "Sharma Constructions",
		Lines: []invoicing.Line{
			{ProductID: "cement-50kg", ProductName: "OPC 53 Cement", Unit: "bag", Quantity: 10, UnitPrice: 380},
		},
	}
}

func newTestSyncer(t *testing.T) (*Service, *fakeSource, *fakeDispatches, *memoryConfigs) {
	t.Helper()
	source := newFakeSource()
	dispatches := newFakeDispatches()
	configs := newMemoryConfigs()
	return NewService(source, dispatches, configs, nil, nil), source, dispatches, configs
}

func TestSyncCreatesDispatchesAndAcks(t *testing.T) {
	svc, source, dispatches, configs := newTestSyncer(t)
	for _, id := range []string{"inv-1", "inv-2", "inv-3"} {
		source.add(pendingInvoice(id))
	}

	result, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 3, result.Synced)
	require.Equal(t, 0, result.PendingCount)
	require.Equal(t, 3, dispatches.created)
	require.Equal(t, 3, source.acks)

	cfg, err := configs.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, cfg.LastSyncAt)
	require.Equal(t, 3, cfg.LastSyncCount)
}

func TestSyncIsIdempotent(t *testing.T) {
	svc, source, dispatches, _ := newTestSyncer(t)
	for _, id := range []string{"inv-1", "inv-2"} {
		source.add(pendingInvoice(id))
	}

	first, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 2, first.Synced)

	second, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 0, second.Synced)
	require.Equal(t, 2, dispatches.created)
}

func TestFailedAckRetriedWithoutDuplicates(t *testing.T) {
	svc, source, dispatches, _ := newTestSyncer(t)
	for _, id := range []string{"inv-1", "inv-2", "inv-3", "inv-4", "inv-5"} {
		source.add(pendingInvoice(id))
	}

	// First pass: dispatches are created but every acknowledgment fails.
	source.ackFail = true
	first, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 5, first.Synced)
	require.Equal(t, 5, dispatches.created)
	require.Equal(t, 5, first.PendingCount, "unacked invoices still count as pending")

	// Second pass: existing dispatches are detected by invoice id, no
	// new rows, and acknowledgment is retried for all five.
	source.ackFail = false
	second, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 0, second.Synced)
	require.Equal(t, 5, dispatches.created)
	require.Equal(t, 5, source.acks)
	require.Equal(t, 0, second.PendingCount)
}

func TestCancelledInvoicesAreSkipped(t *testing.T) {
	svc, source, dispatches, _ := newTestSyncer(t)
	inv := pendingInvoice("inv-1")
	inv.Status = invoicing.StatusCancelled
	source.add(inv)

	result, err := svc.SyncInvoices(context.Background(), "t1", []string{"inv-1"})
	require.NoError(t, err)
	require.Equal(t, 0, result.Synced)
	require.Equal(t, 0, dispatches.created)
}

func TestSyncSubsetOnly(t *testing.T) {
	svc, source, dispatches, _ := newTestSyncer(t)
	source.add(pendingInvoice("inv-1"))
	source.add(pendingInvoice("inv-2"))

	result, err := svc.SyncInvoices(context.Background(), "t1", []string{"inv-2"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Synced)
	require.Equal(t, 1, dispatches.created)
	require.Equal(t, 1, result.PendingCount)
}

func TestSetAutoSyncPersists(t *testing.T) {
	svc, _, _, configs := newTestSyncer(t)

	cfg, err := svc.SetAutoSync(context.Background(), "t1", false, 0)
	require.NoError(t, err)
	require.False(t, cfg.AutoSyncEnabled)

	stored, err := configs.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.False(t, stored.AutoSyncEnabled)

	cfg, err = svc.SetAutoSync(context.Background(), "t1", true, 5*time.Second)
	require.NoError(t, err)
	require.True(t, cfg.AutoSyncEnabled)
	require.Equal(t, 5*time.Second, cfg.Interval)
}

func TestStatusReportsPendingCount(t *testing.T) {
	svc, source, _, _ := newTestSyncer(t)
	source.add(pendingInvoice("inv-1"))

	status, err := svc.GetStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, status.PendingCount)
	require.True(t, status.AutoSyncEnabled)
}
