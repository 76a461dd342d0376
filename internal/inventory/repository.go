package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetPositionForUpdate(ctx context.Context, tenantID, productID string) (Position, error)
	UpsertPosition(ctx context.Context, pos Position) error
	InsertMovement(ctx context.Context, mv Movement) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetPosition reads the position without locking. Missing rows map to a
// zero position so callers see total=0, reserved=0 for unknown products.
func (r *Repository) GetPosition(ctx context.Context, tenantID, productID string) (Position, error) {
	if r == nil {
		return Position{}, errors.New("inventory repository not initialised")
	}
	var pos Position
	err := r.pool.QueryRow(ctx, `SELECT tenant_id, product_id, total_qty, reserved_qty, updated_at
FROM inventory_positions WHERE tenant_id=$1 AND product_id=$2`, tenantID, productID).
		Scan(&pos.TenantID, &pos.ProductID, &pos.TotalQty, &pos.ReservedQty, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Position{TenantID: tenantID, ProductID: productID}, nil
		}
		return Position{}, err
	}
	return pos, nil
}

// ListMovements returns the movement log for a product, newest first.
func (r *Repository) ListMovements(ctx context.Context, tenantID, productID string, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, product_id, kind, qty, ref_kind, ref_id, note, posted_at
FROM inventory_movements WHERE tenant_id=$1 AND product_id=$2 ORDER BY posted_at DESC, id DESC LIMIT $3`, tenantID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.TenantID, &mv.ProductID, &mv.Kind, &mv.Qty, &mv.RefKind, &mv.RefID, &mv.Note, &mv.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func (r *txRepository) GetPositionForUpdate(ctx context.Context, tenantID, productID string) (Position, error) {
	var pos Position
	err := r.tx.QueryRow(ctx, `SELECT tenant_id, product_id, total_qty, reserved_qty, updated_at
FROM inventory_positions WHERE tenant_id=$1 AND product_id=$2 FOR UPDATE`, tenantID, productID).
		Scan(&pos.TenantID, &pos.ProductID, &pos.TotalQty, &pos.ReservedQty, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Position{TenantID: tenantID, ProductID: productID}, ErrPositionNotFound
		}
		return Position{}, err
	}
	return pos, nil
}

func (r *txRepository) UpsertPosition(ctx context.Context, pos Position) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_positions (tenant_id, product_id, total_qty, reserved_qty, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (tenant_id, product_id) DO UPDATE SET total_qty=EXCLUDED.total_qty, reserved_qty=EXCLUDED.reserved_qty, updated_at=NOW()`,
		pos.TenantID, pos.ProductID, pos.TotalQty, pos.ReservedQty)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_movements (tenant_id, product_id, kind, qty, ref_kind, ref_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, mv.TenantID, mv.ProductID, string(mv.Kind), mv.Qty, mv.RefKind, mv.RefID, mv.Note, mv.PostedAt)
	return err
}
