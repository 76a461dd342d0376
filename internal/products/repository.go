package products

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Repository interface {
	List(ctx context.Context, tenantID string, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, tenantID, id string) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, product Product) error
	GetSchema(ctx context.Context, tenantID, category string) (AttributeSchema, error)
	UpsertSchema(ctx context.Context, tenantID string, schema AttributeSchema) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, tenantID string, filters ListFilters) ([]Product, int, error) {
	query := `SELECT id, tenant_id, name, category, unit, price, hsn_code, attributes, is_active, created_at, updated_at FROM products WHERE tenant_id = $1`
	countQuery := `SELECT COUNT(*) FROM products WHERE tenant_id = $1`
	args := []any{tenantID}
	argCount := 1

	if filters.Category != "" {
		argCount++
		cond := ` AND category = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, filters.Category)
	}
	if filters.Search != "" {
		argCount++
		cond := ` AND name ILIKE $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		cond := ` AND is_active = $` + strconv.Itoa(argCount)
		query += cond
		countQuery += cond
		args = append(args, *filters.IsActive)
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name ASC`
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

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Category, &p.Unit, &p.Price, &p.HSNCode, &p.Attributes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, tenantID, id string) (Product, error) {
	query := `SELECT id, tenant_id, name, category, unit, price, hsn_code, attributes, is_active, created_at, updated_at FROM products WHERE tenant_id = $1 AND id = $2`
	var p Product
	err := r.db.QueryRow(ctx, query, tenantID, id).
		Scan(&p.ID, &p.TenantID, &p.Name, &p.Category, &p.Unit, &p.Price, &p.HSNCode, &p.Attributes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	now := time.Now().UTC()
	query := `INSERT INTO products (id, tenant_id, name, category, unit, price, hsn_code, attributes, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`
	_, err := r.db.Exec(ctx, query, product.ID, product.TenantID, product.Name, product.Category, product.Unit, product.Price, product.HSNCode, product.Attributes, product.IsActive, now)
	if err != nil {
		return Product{}, err
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repository) Update(ctx context.Context, product Product) error {
	query := `UPDATE products SET name=$1, category=$2, unit=$3, price=$4, hsn_code=$5, attributes=$6, is_active=$7, updated_at=$8
WHERE tenant_id=$9 AND id=$10`
	tag, err := r.db.Exec(ctx, query, product.Name, product.Category, product.Unit, product.Price, product.HSNCode, product.Attributes, product.IsActive, time.Now().UTC(), product.TenantID, product.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) GetSchema(ctx context.Context, tenantID, category string) (AttributeSchema, error) {
	var schema AttributeSchema
	err := r.db.QueryRow(ctx, `SELECT category, fields FROM attribute_schemas WHERE tenant_id = $1 AND category = $2`, tenantID, category).
		Scan(&schema.Category, &schema.Fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return AttributeSchema{}, shared.ErrNotFound
	}
	return schema, err
}

func (r *repository) UpsertSchema(ctx context.Context, tenantID string, schema AttributeSchema) error {
	_, err := r.db.Exec(ctx, `INSERT INTO attribute_schemas (tenant_id, category, fields, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (tenant_id, category) DO UPDATE SET fields=EXCLUDED.fields, updated_at=NOW()`, tenantID, schema.Category, schema.Fields)
	return err
}
