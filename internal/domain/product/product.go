package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item sold by exactly one branch.
type Product struct {
	ID          string
	BranchID    string
	Name        string
	Price       decimal.Decimal
	PromoPrice  decimal.NullDecimal
	Description string
	Image       string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns products matching any of the given IDs. Unknown IDs are
	// simply absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
