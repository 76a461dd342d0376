package products

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Product is a catalog item. Category-specific properties live in the
// generic Attributes map and are validated against the category schema,
// so adding a new material category never needs a migration.
type Product struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"-"`
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Unit       string         `json:"unit"`
	Price      float64        `json:"price"`
	HSNCode    string         `json:"hsnCode,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	IsActive   bool           `json:"isActive"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// FieldType enumerates attribute value types a schema may declare.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldSelect  FieldType = "select"
)

// AttributeField declares one attribute a category expects.
type AttributeField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
}

// AttributeSchema is the per-category attribute descriptor.
type AttributeSchema struct {
	Category string           `json:"category"`
	Fields   []AttributeField `json:"fields"`
}

// ValidateAttributes checks an attribute map against a schema. Unknown
// keys are rejected, required keys must be present, and each value must
// match its declared type.
func ValidateAttributes(schema AttributeSchema, attrs map[string]any) error {
	known := make(map[string]AttributeField, len(schema.Fields))
	for _, f := range schema.Fields {
		known[f.Name] = f
	}
	for name := range attrs {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: unknown attribute %q for category %q", shared.ErrValidation, name, schema.Category)
		}
	}
	for _, f := range schema.Fields {
		value, ok := attrs[f.Name]
		if !ok {
			if f.Required {
				return shared.MissingField("attributes." + f.Name)
			}
			continue
		}
		if err := validateFieldValue(f, value); err != nil {
			return err
		}
	}
	return nil
}

func validateFieldValue(f AttributeField, value any) error {
	switch f.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: attribute %q must be a string", shared.ErrValidation, f.Name)
		}
	case FieldNumber:
		// JSON numbers decode as float64.
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%w: attribute %q must be a number", shared.ErrValidation, f.Name)
		}
	case FieldBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: attribute %q must be a boolean", shared.ErrValidation, f.Name)
		}
	case FieldSelect:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: attribute %q must be a string", shared.ErrValidation, f.Name)
		}
		for _, opt := range f.Options {
			if s == opt {
				return nil
			}
		}
		return fmt.Errorf("%w: attribute %q must be one of %v", shared.ErrValidation, f.Name, f.Options)
	default:
		return fmt.Errorf("%w: attribute %q has unsupported type %q", shared.ErrValidation, f.Name, f.Type)
	}
	return nil
}

// ListFilters narrows a product listing.
type ListFilters struct {
	Category string
	Search   string
	IsActive *bool
	Limit    int
	Page     int
}
