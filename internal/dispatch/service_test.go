package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	dispatches map[string]Dispatch
	challans   map[string]Challan
	receipts   map[string]Receipt
	counters   map[string]int64
	failUpdate error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		dispatches: map[string]Dispatch{},
		challans:   map[string]Challan{},
		receipts:   map[string]Receipt{},
		counters:   map[string]int64{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) Create(ctx context.Context, d Dispatch) (Dispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.SourceType == SourceInvoiceSync {
		for _, existing := range m.dispatches {
			if existing.TenantID == d.TenantID && existing.SourceType == SourceInvoiceSync && existing.InvoiceID == d.InvoiceID {
				return Dispatch{}, ErrDuplicateInvoice
			}
		}
	}
	d.Version = 1
	m.dispatches[d.ID] = d
	return d, nil
}

func (m *memoryRepo) Get(ctx context.Context, tenantID, id string) (Dispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dispatches[id]
	if !ok || d.TenantID != tenantID {
		return Dispatch{}, shared.ErrNotFound
	}
	return d, nil
}

func (m *memoryRepo) FindByInvoiceID(ctx context.Context, tenantID, invoiceID string) (Dispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dispatches {
		if d.TenantID == tenantID && d.SourceType == SourceInvoiceSync && d.InvoiceID == invoiceID {
			return d, nil
		}
	}
	return Dispatch{}, shared.ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, tenantID string, filters ListFilters) ([]Dispatch, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Dispatch{}
	for _, d := range m.dispatches {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[Status]int{}
	for _, d := range m.dispatches {
		if d.TenantID == tenantID {
			counts[d.Status]++
		}
	}
	return counts, nil
}

func (m *memoryRepo) NextNumber(ctx context.Context, tenantID, name, prefix string, width int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[tenantID+"/"+name]++
	return fmt.Sprintf("%s-%0*d", prefix, width, m.counters[tenantID+"/"+name]), nil
}

func (m *memoryRepo) GetChallan(ctx context.Context, tenantID, dispatchID string) (Challan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challans[dispatchID]
	if !ok {
		return Challan{}, shared.ErrNotFound
	}
	return ch, nil
}

func (m *memoryRepo) GetReceipt(ctx context.Context, tenantID, dispatchID string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.receipts[dispatchID]
	if !ok {
		return Receipt{}, shared.ErrNotFound
	}
	return rc, nil
}

func (m *memoryRepo) MarkNotified(ctx context.Context, tenantID, dispatchID string, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dispatches[dispatchID]
	if !ok {
		return shared.ErrNotFound
	}
	d.Notified = n
	m.dispatches[dispatchID] = d
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) UpdateDispatch(ctx context.Context, d Dispatch) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.repo.failUpdate != nil {
		return t.repo.failUpdate
	}
	current, ok := t.repo.dispatches[d.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != d.Version {
		return shared.ErrTransitionConflict
	}
	d.Version++
	t.repo.dispatches[d.ID] = d
	return nil
}

func (t *memoryTx) InsertChallan(ctx context.Context, tenantID string, ch Challan) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.challans[ch.DispatchID] = ch
	return nil
}

func (t *memoryTx) InsertReceipt(ctx context.Context, tenantID string, rc Receipt) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.receipts[rc.DispatchID] = rc
	return nil
}

// fakeLedger mirrors the inventory ledger semantics in memory.
type fakeLedger struct {
	mu       sync.Mutex
	total    map[string]float64
	reserved map[string]float64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{total: map[string]float64{}, reserved: map[string]float64{}}
}

func (f *fakeLedger) seed(productID string, total float64) {
	f.total[productID] = total
}

func (f *fakeLedger) ReserveBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, line := range lines {
		available := f.total[line.ProductID] - f.reserved[line.ProductID]
		if available < line.Qty {
			for _, done := range lines[:i] {
				f.reserved[done.ProductID] -= done.Qty
			}
			return shared.InsufficientStock(line.ProductID, line.Qty, available)
		}
		f.reserved[line.ProductID] += line.Qty
	}
	return nil
}

func (f *fakeLedger) ReleaseBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range lines {
		f.reserved[line.ProductID] -= line.Qty
		if f.reserved[line.ProductID] < 0 {
			f.reserved[line.ProductID] = 0
		}
	}
}

func (f *fakeLedger) CommitBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, line := range lines {
		if f.reserved[line.ProductID] < line.Qty {
			for _, done := range lines[:i] {
				f.reserved[done.ProductID] += done.Qty
				f.total[done.ProductID] += done.Qty
			}
			return shared.ReservationMismatch(line.ProductID, line.Qty, f.reserved[line.ProductID])
		}
		f.reserved[line.ProductID] -= line.Qty
		f.total[line.ProductID] -= line.Qty
	}
	return nil
}

func (f *fakeLedger) RestoreBatch(ctx context.Context, tenantID string, lines []inventory.Line, ref inventory.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range lines {
		f.reserved[line.ProductID] += line.Qty
		f.total[line.ProductID] += line.Qty
	}
}

type fakeNotifier struct {
	mu       sync.Mutex
	enqueued []string
	forced   []bool
	fail     error
}

func (f *fakeNotifier) EnqueueTransitNotice(ctx context.Context, tenantID, dispatchID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.enqueued = append(f.enqueued, dispatchID)
	f.forced = append(f.forced, force)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *fakeLedger, *fakeNotifier) {
	t.Helper()
	repo := newMemoryRepo()
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	return NewService(repo, ledger, notifier, nil, nil, nil), repo, ledger, notifier
}

func createTestDispatch(t *testing.T, svc *Service, qty float64) Dispatch {
	t.Helper()
	d, err := svc.Create(context.Background(), "t1", CreateInput{
		Customer: Customer{Name: "Sharma Constructions", DeliveryAddress: "Plot 14"},
		Items: []Item{
			{ProductID: "cement-50kg", ProductName: "OPC 53 Cement", Unit: "bag", Quantity: qty, UnitPrice: 380},
		},
	})
	require.NoError(t, err)
	return d
}

func advance(t *testing.T, svc *Service, id string, action Action, payload TransitionPayload) Dispatch {
	t.Helper()
	d, err := svc.ApplyTransition(context.Background(), "t1", id, action, payload)
	require.NoError(t, err)
	return d
}

func startPayload() TransitionPayload {
	return TransitionPayload{Transporter: &Transporter{VehicleNumber: "MH-12-AB-1234", DriverName: "R. Patil"}}
}

func TestCreateAssignsNumberAndHistory(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	d := createTestDispatch(t, svc, 10)
	require.Equal(t, "DSP-00001", d.DispatchNumber)
	require.Equal(t, StatusPending, d.Status)
	require.Len(t, d.StatusHistory, 1)

	second := createTestDispatch(t, svc, 5)
	require.Equal(t, "DSP-00002", second.DispatchNumber)
}

func TestLoadGoodsWithoutImageLeavesInventoryUntouched(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 100)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())

	_, err := svc.ApplyTransition(context.Background(), "t1", d.ID, ActionLoadGoods, TransitionPayload{})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 0.0, ledger.reserved["cement-50kg"])

	got, err := svc.Get(context.Background(), "t1", d.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Empty(t, got.LoadingImage)
}

func TestLoadGoodsReservesAndGeneratesChallan(t *testing.T) {
	svc, repo, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 10)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())

	loaded := advance(t, svc, d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg", PackageCount: 10})
	require.Equal(t, StatusLoaded, loaded.Status)
	require.Equal(t, 10.0, ledger.reserved["cement-50kg"])
	require.Equal(t, 10.0, ledger.total["cement-50kg"], "loading reserves, never consumes")

	ch, err := svc.GetChallan(context.Background(), "t1", d.ID)
	require.NoError(t, err)
	require.Equal(t, "DC-000001", ch.ChallanNumber)
	require.Equal(t, loaded.Items, ch.Items)

	// Competing dispatch for the exhausted stock.
	other := createTestDispatch(t, svc, 1)
	advance(t, svc, other.ID, ActionStartDispatch, startPayload())
	_, err = svc.ApplyTransition(context.Background(), "t1", other.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/2.jpg"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 10.0, ledger.reserved["cement-50kg"], "failed load must not change the hold")
	_, err = repo.GetChallan(context.Background(), "t1", other.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMarkDeliveredCommitsInventoryAndWritesReceipt(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 10)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())
	advance(t, svc, d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})
	advance(t, svc, d.ID, ActionStartTransit, TransitionPayload{})

	delivered := advance(t, svc, d.ID, ActionMarkDelivered, TransitionPayload{
		ReceiverName: "A. Sharma", SignedReceiptImage: "blob://signed/1.jpg",
	})
	require.Equal(t, StatusDelivered, delivered.Status)
	require.Equal(t, 0.0, ledger.total["cement-50kg"])
	require.Equal(t, 0.0, ledger.reserved["cement-50kg"])
	require.Equal(t, "DR-000001", delivered.DeliveryReceiptID)

	rc, err := svc.GetReceipt(context.Background(), "t1", d.ID)
	require.NoError(t, err)
	require.Equal(t, "A. Sharma", rc.ReceiverName)
	require.Equal(t, delivered.Items, rc.Items)
}

func TestStartTransitEnqueuesNotice(t *testing.T) {
	svc, _, ledger, notifier := newTestService(t)
	ledger.seed("cement-50kg", 10)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())
	advance(t, svc, d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})
	advance(t, svc, d.ID, ActionStartTransit, TransitionPayload{})
	require.Equal(t, []string{d.ID}, notifier.enqueued)
}

func TestNotifierFailureDoesNotRollBackTransition(t *testing.T) {
	svc, _, ledger, notifier := newTestService(t)
	notifier.fail = errors.New("broker down")
	ledger.seed("cement-50kg", 10)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())
	advance(t, svc, d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})

	got := advance(t, svc, d.ID, ActionStartTransit, TransitionPayload{})
	require.Equal(t, StatusInTransit, got.Status)
}

func TestCancelLoadedDispatchReleasesReservation(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 10)
	d, err := svc.Create(context.Background(), "t1", CreateInput{
		Customer: Customer{Name: "Sharma Constructions"},
		Items: []Item{
			{ProductID: "cement-50kg", ProductName: "OPC 53 Cement", Unit: "bag", Quantity: 4, UnitPrice: 380},
		},
	})
	require.NoError(t, err)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())
	advance(t, svc, d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})
	require.Equal(t, 4.0, ledger.reserved["cement-50kg"])

	cancelled := advance(t, svc, d.ID, ActionCancel, TransitionPayload{Reason: "customer postponed"})
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, 0.0, ledger.reserved["cement-50kg"])
	require.Equal(t, 10.0, ledger.total["cement-50kg"], "cancel never consumes stock")

	_, err = svc.ApplyTransition(context.Background(), "t1", d.ID, ActionStartTransit, TransitionPayload{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = svc.ApplyTransition(context.Background(), "t1", d.ID, ActionCancel, TransitionPayload{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelPendingDispatchIsReservationNoop(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 10)
	d := createTestDispatch(t, svc, 4)

	cancelled := advance(t, svc, d.ID, ActionCancel, TransitionPayload{})
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, 0.0, ledger.reserved["cement-50kg"])
}

func TestVersionConflictReleasesFreshReservation(t *testing.T) {
	svc, repo, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 10)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())

	repo.failUpdate = shared.ErrTransitionConflict
	_, err := svc.ApplyTransition(context.Background(), "t1", d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})
	require.ErrorIs(t, err, shared.ErrTransitionConflict)
	require.Equal(t, 0.0, ledger.reserved["cement-50kg"], "conflicted load must release its hold")
}

func TestVersionConflictRestoresCommittedStock(t *testing.T) {
	svc, repo, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 10)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())
	advance(t, svc, d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})
	advance(t, svc, d.ID, ActionStartTransit, TransitionPayload{})

	repo.failUpdate = shared.ErrTransitionConflict
	_, err := svc.ApplyTransition(context.Background(), "t1", d.ID, ActionMarkDelivered, TransitionPayload{
		ReceiverName: "A. Sharma", SignedReceiptImage: "blob://signed/1.jpg",
	})
	require.ErrorIs(t, err, shared.ErrTransitionConflict)
	require.Equal(t, 10.0, ledger.total["cement-50kg"])
	require.Equal(t, 10.0, ledger.reserved["cement-50kg"])
}

func TestCreateFromInvoiceIsIdempotent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	input := FromInvoiceInput{
		InvoiceID:     "inv-1",
		InvoiceNumber: "INV-2026-001",
		Customer:      Customer{Name: "Sharma Constructions"},
		Items: []Item{
			{ProductID: "cement-50kg", ProductName: "OPC 53 Cement", Unit: "bag", Quantity: 10, UnitPrice: 380},
		},
	}
	first, created, err := svc.CreateFromInvoice(context.Background(), "t1", input)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, SourceInvoiceSync, first.SourceType)

	second, created, err := svc.CreateFromInvoice(context.Background(), "t1", input)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestConcurrentTransitionsOnSameDispatchSerialize(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 100)
	d := createTestDispatch(t, svc, 10)
	advance(t, svc, d.ID, ActionStartDispatch, startPayload())

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyTransition(context.Background(), "t1", d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, shared.ErrInvalidTransition)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one load_goods may win")
	require.Equal(t, 10.0, ledger.reserved["cement-50kg"])
}

func TestRequestNotificationOnlyOnTheRoad(t *testing.T) {
	svc, _, ledger, notifier := newTestService(t)
	ledger.seed("cement-50kg", 100)
	d := createTestDispatch(t, svc, 10)

	err := svc.RequestNotification(context.Background(), "t1", d.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Empty(t, notifier.enqueued)

	advance(t, svc, d.ID, ActionStartDispatch, startPayload())
	advance(t, svc, d.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})
	advance(t, svc, d.ID, ActionStartTransit, TransitionPayload{})
	require.Equal(t, []bool{false}, notifier.forced, "automatic transit notice must not force")
	notifier.enqueued = nil
	notifier.forced = nil

	require.NoError(t, svc.RequestNotification(context.Background(), "t1", d.ID))
	require.Equal(t, []string{d.ID}, notifier.enqueued)
	require.Equal(t, []bool{true}, notifier.forced, "operator request must force a resend")
}

func TestStatsCountsByStatus(t *testing.T) {
	svc, _, ledger, _ := newTestService(t)
	ledger.seed("cement-50kg", 100)
	first := createTestDispatch(t, svc, 10)
	createTestDispatch(t, svc, 5)
	advance(t, svc, first.ID, ActionStartDispatch, startPayload())
	advance(t, svc, first.ID, ActionLoadGoods, TransitionPayload{LoadingImage: "blob://load/1.jpg"})

	stats, err := svc.Stats(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, stats[StatusPending])
	require.Equal(t, 1, stats[StatusLoaded])
}
