package invoicing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Source is the invoice adapter contract the sync engine consumes. The
// engine only lists dispatch-ready invoices and acknowledges the ones it
// has durably turned into dispatches.
type Source interface {
	ListPending(ctx context.Context, tenantID string, limit int) ([]Invoice, error)
	Get(ctx context.Context, tenantID, invoiceID string) (Invoice, error)
	CountPending(ctx context.Context, tenantID string) (int, error)
	MarkSynced(ctx context.Context, tenantID, invoiceID string) error
}

const invoiceColumns = `id, tenant_id, invoice_number, status, customer_name, customer_phone,
delivery_address, lines, balance_due, dispatch_synced, created_at`

// PGSource reads invoices from the billing tables in PostgreSQL.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource constructs PGSource.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.InvoiceNumber, &inv.Status, &inv.CustomerName, &inv.CustomerPhone,
		&inv.DeliveryAddress, &inv.Lines, &inv.BalanceDue, &inv.DispatchSynced, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, shared.ErrNotFound
	}
	return inv, err
}

// ListPending returns unsynced, dispatch-eligible invoices oldest first.
func (s *PGSource) ListPending(ctx context.Context, tenantID string, limit int) ([]Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE tenant_id = $1 AND dispatch_synced = FALSE
AND status IN ('draft','sent','paid','partially_paid')
ORDER BY created_at ASC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// Get fetches one invoice.
func (s *PGSource) Get(ctx context.Context, tenantID, invoiceID string) (Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = $1 AND id = $2`, tenantID, invoiceID))
}

// CountPending reports how many invoices still await a dispatch.
func (s *PGSource) CountPending(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices
WHERE tenant_id = $1 AND dispatch_synced = FALSE
AND status IN ('draft','sent','paid','partially_paid')`, tenantID).Scan(&count)
	return count, err
}

// MarkSynced acknowledges that a dispatch exists for the invoice.
func (s *PGSource) MarkSynced(ctx context.Context, tenantID, invoiceID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE invoices SET dispatch_synced = TRUE, dispatch_synced_at = NOW()
WHERE tenant_id = $1 AND id = $2`, tenantID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
