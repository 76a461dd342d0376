package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ListFilters narrows a dispatch listing.
type ListFilters struct {
	Status    Status
	Source    SourceType
	InvoiceID string
	Search    string
	From      *time.Time
	To        *time.Time
	Limit     int
	Page      int
}

// Repository persists dispatches and their documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations a transition applies atomically.
type TxRepository interface {
	UpdateDispatch(ctx context.Context, d Dispatch) error
	InsertChallan(ctx context.Context, tenantID string, ch Challan) error
	InsertReceipt(ctx context.Context, tenantID string, rc Receipt) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const dispatchColumns = `id, tenant_id, dispatch_number, source_type, invoice_id, invoice_number,
customer, items, transporter, payment, status, status_history,
dispatch_started_at, goods_loaded_at, transit_started_at, delivered_at, estimated_delivery,
loading_image, package_count, total_weight, notes, delivery_receipt_id, notification,
version, created_at, updated_at`

func scanDispatch(row pgx.Row) (Dispatch, error) {
	var d Dispatch
	err := row.Scan(&d.ID, &d.TenantID, &d.DispatchNumber, &d.SourceType, &d.InvoiceID, &d.InvoiceNumber,
		&d.Customer, &d.Items, &d.Transporter, &d.Payment, &d.Status, &d.StatusHistory,
		&d.DispatchStartedAt, &d.GoodsLoadedAt, &d.TransitStartedAt, &d.DeliveredAt, &d.EstimatedDelivery,
		&d.LoadingImage, &d.PackageCount, &d.TotalWeight, &d.Notes, &d.DeliveryReceiptID, &d.Notified,
		&d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Dispatch{}, shared.ErrNotFound
	}
	return d, err
}

// Create inserts a new dispatch. A unique index on (tenant_id, invoice_id)
// for invoice-synced rows turns duplicate sync creations into
// ErrDuplicateInvoice so the caller can fall back to the existing row.
func (r *Repository) Create(ctx context.Context, d Dispatch) (Dispatch, error) {
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Version = 1
	_, err := r.pool.Exec(ctx, `INSERT INTO dispatches (`+dispatchColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		d.ID, d.TenantID, d.DispatchNumber, d.SourceType, d.InvoiceID, d.InvoiceNumber,
		d.Customer, d.Items, d.Transporter, d.Payment, d.Status, d.StatusHistory,
		d.DispatchStartedAt, d.GoodsLoadedAt, d.TransitStartedAt, d.DeliveredAt, d.EstimatedDelivery,
		d.LoadingImage, d.PackageCount, d.TotalWeight, d.Notes, d.DeliveryReceiptID, d.Notified,
		d.Version, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispatch{}, ErrDuplicateInvoice
		}
		return Dispatch{}, err
	}
	return d, nil
}

// ErrDuplicateInvoice signals a dispatch already exists for the invoice.
var ErrDuplicateInvoice = errors.New("dispatch already exists for invoice")

// Get fetches one dispatch.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (Dispatch, error) {
	return scanDispatch(r.pool.QueryRow(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

// FindByInvoiceID returns the invoice-synced dispatch for an invoice, if any.
func (r *Repository) FindByInvoiceID(ctx context.Context, tenantID, invoiceID string) (Dispatch, error) {
	return scanDispatch(r.pool.QueryRow(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches
WHERE tenant_id=$1 AND source_type=$2 AND invoice_id=$3`, tenantID, SourceInvoiceSync, invoiceID))
}

// List returns dispatches newest first.
func (r *Repository) List(ctx context.Context, tenantID string, filters ListFilters) ([]Dispatch, int, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches WHERE tenant_id = $1`
	countQuery := `SELECT COUNT(*) FROM dispatches WHERE tenant_id = $1`
	args := []any{tenantID}
	argCount := 1

	if filters.Status != "" {
		argCount++
		cond := ` AND status = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filters.Status)
	}
	if filters.Source != "" {
		argCount++
		cond := ` AND source_type = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filters.Source)
	}
	if filters.InvoiceID != "" {
		argCount++
		cond := ` AND invoice_id = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filters.InvoiceID)
	}
	if filters.Search != "" {
		argCount++
		cond := ` AND (dispatch_number ILIKE $` + strconv.Itoa(argCount) + ` OR customer->>'name' ILIKE $` + strconv.Itoa(argCount) + `)`
		query += cond
		countQuery += cond
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.From != nil {
		argCount++
		cond := ` AND created_at >= $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		argCount++
		cond := ` AND created_at < $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *filters.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY created_at DESC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	dispatches := []Dispatch{}
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, 0, err
		}
		dispatches = append(dispatches, d)
	}
	return dispatches, total, rows.Err()
}

// CountByStatus returns the number of dispatches per status.
func (r *Repository) CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM dispatches WHERE tenant_id=$1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// NextNumber atomically advances a per-tenant counter and formats the
// document number. Safe across instances, unlike read-then-increment.
func (r *Repository) NextNumber(ctx context.Context, tenantID, name, prefix string, width int) (string, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `INSERT INTO counters (tenant_id, name, value) VALUES ($1,$2,1)
ON CONFLICT (tenant_id, name) DO UPDATE SET value = counters.value + 1
RETURNING value`, tenantID, name).Scan(&value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%0*d", prefix, width, value), nil
}

// GetChallan returns the challan for a dispatch, if generated.
func (r *Repository) GetChallan(ctx context.Context, tenantID, dispatchID string) (Challan, error) {
	var ch Challan
	err := r.pool.QueryRow(ctx, `SELECT body FROM challans
WHERE tenant_id=$1 AND dispatch_id=$2`, tenantID, dispatchID).Scan(&ch)
	if errors.Is(err, pgx.ErrNoRows) {
		return Challan{}, shared.ErrNotFound
	}
	return ch, err
}

// GetReceipt returns the delivery receipt for a dispatch, if generated.
func (r *Repository) GetReceipt(ctx context.Context, tenantID, dispatchID string) (Receipt, error) {
	var rc Receipt
	err := r.pool.QueryRow(ctx, `SELECT body FROM delivery_receipts
WHERE tenant_id=$1 AND dispatch_id=$2`, tenantID, dispatchID).Scan(&rc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.ErrNotFound
	}
	return rc, err
}

// MarkNotified records the transit notice outcome on the dispatch.
// Not version-guarded: it touches only the notification column.
func (r *Repository) MarkNotified(ctx context.Context, tenantID, dispatchID string, n Notification) error {
	tag, err := r.pool.Exec(ctx, `UPDATE dispatches SET notification=$1, updated_at=NOW()
WHERE tenant_id=$2 AND id=$3`, n, tenantID, dispatchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateDispatch writes a transition result guarded by the optimistic
// version column. Zero rows affected means another transition won the
// race since the dispatch was read.
func (r *txRepository) UpdateDispatch(ctx context.Context, d Dispatch) error {
	tag, err := r.tx.Exec(ctx, `UPDATE dispatches SET
transporter=$1, payment=$2, status=$3, status_history=$4,
dispatch_started_at=$5, goods_loaded_at=$6, transit_started_at=$7, delivered_at=$8, estimated_delivery=$9,
loading_image=$10, package_count=$11, total_weight=$12, notes=$13, delivery_receipt_id=$14,
version=version+1, updated_at=$15
WHERE tenant_id=$16 AND id=$17 AND version=$18`,
		d.Transporter, d.Payment, d.Status, d.StatusHistory,
		d.DispatchStartedAt, d.GoodsLoadedAt, d.TransitStartedAt, d.DeliveredAt, d.EstimatedDelivery,
		d.LoadingImage, d.PackageCount, d.TotalWeight, d.Notes, d.DeliveryReceiptID,
		d.UpdatedAt, d.TenantID, d.ID, d.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrTransitionConflict
	}
	return nil
}

func (r *txRepository) InsertChallan(ctx context.Context, tenantID string, ch Challan) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO challans (tenant_id, challan_number, dispatch_id, body, generated_at)
VALUES ($1,$2,$3,$4,$5)`, tenantID, ch.ChallanNumber, ch.DispatchID, ch, ch.GeneratedAt)
	return err
}

func (r *txRepository) InsertReceipt(ctx context.Context, tenantID string, rc Receipt) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO delivery_receipts (tenant_id, receipt_number, dispatch_id, body, generated_at)
VALUES ($1,$2,$3,$4,$5)`, tenantID, rc.ReceiptNumber, rc.DispatchID, rc, rc.GeneratedAt)
	return err
}
