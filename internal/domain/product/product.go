package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog frame or lens with an aggregate stock counter.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Active   bool
	Variants []Variant
}

// Variant refines a product (colour, size) and carries its own stock and an
// optional price override.
type Variant struct {
	ID        string
	ProductID string
	Name      string
	Price     *decimal.Decimal
	Stock     int
}

// Variant returns the variant with the given id, if the product has it.
func (p *Product) Variant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns the products matching any of the given IDs, inactive
	// ones included, with their variants populated.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
