package products

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, tenantID string, filters ListFilters) ([]Product, int, error) {
	if tenantID == "" {
		return nil, 0, shared.ErrTenantRequired
	}
	return s.repo.List(ctx, tenantID, filters)
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Product, error) {
	if tenantID == "" {
		return Product{}, shared.ErrTenantRequired
	}
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) Create(ctx context.Context, tenantID string, product Product) (Product, error) {
	if tenantID == "" {
		return Product{}, shared.ErrTenantRequired
	}
	product.TenantID = tenantID
	if err := s.validate(ctx, product); err != nil {
		return Product{}, err
	}
	product.ID = uuid.NewString()
	product.IsActive = true
	return s.repo.Create(ctx, product)
}

func (s *Service) Update(ctx context.Context, tenantID, id string, product Product) (Product, error) {
	if tenantID == "" {
		return Product{}, shared.ErrTenantRequired
	}
	existing, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Product{}, err
	}
	product.ID = existing.ID
	product.TenantID = tenantID
	product.CreatedAt = existing.CreatedAt
	if err := s.validate(ctx, product); err != nil {
		return Product{}, err
	}
	if err := s.repo.Update(ctx, product); err != nil {
		return Product{}, err
	}
	return s.repo.Get(ctx, tenantID, id)
}

// Deactivate soft-deletes a product. Dispatch history keeps referencing
// it, so rows are never physically removed.
func (s *Service) Deactivate(ctx context.Context, tenantID, id string) error {
	if tenantID == "" {
		return shared.ErrTenantRequired
	}
	product, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	product.IsActive = false
	return s.repo.Update(ctx, product)
}

func (s *Service) GetSchema(ctx context.Context, tenantID, category string) (AttributeSchema, error) {
	if tenantID == "" {
		return AttributeSchema{}, shared.ErrTenantRequired
	}
	return s.repo.GetSchema(ctx, tenantID, category)
}

func (s *Service) PutSchema(ctx context.Context, tenantID string, schema AttributeSchema) error {
	if tenantID == "" {
		return shared.ErrTenantRequired
	}
	if strings.TrimSpace(schema.Category) == "" {
		return shared.MissingField("category")
	}
	for _, f := range schema.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return shared.MissingField("fields.name")
		}
		switch f.Type {
		case FieldString, FieldNumber, FieldBoolean:
		case FieldSelect:
			if len(f.Options) == 0 {
				return errors.Join(shared.ErrValidation, errors.New("select field needs options"))
			}
		default:
			return errors.Join(shared.ErrValidation, errors.New("unsupported field type "+string(f.Type)))
		}
	}
	return s.repo.UpsertSchema(ctx, tenantID, schema)
}

func (s *Service) validate(ctx context.Context, p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return shared.MissingField("name")
	}
	if strings.TrimSpace(p.Unit) == "" {
		return shared.MissingField("unit")
	}
	if p.Price < 0 {
		return errors.Join(shared.ErrValidation, errors.New("price cannot be negative"))
	}
	if p.Category == "" {
		return nil
	}
	schema, err := s.repo.GetSchema(ctx, p.TenantID, p.Category)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// No schema registered for the category means attributes
			// are free-form for this tenant.
			return nil
		}
		return err
	}
	return ValidateAttributes(schema, p.Attributes)
}
