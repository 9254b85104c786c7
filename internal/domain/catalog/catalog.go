// Package catalog defines the product catalog, stock, and pricing contracts
// consumed by the order core. Stock checks and decrements are delegated to
// the Inventory implementation, which must provide atomic check-and-decrement
// semantics (two concurrent reservations against the same variant must not
// both succeed when only one fits the remaining stock).
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product or variant does not exist.
var ErrNotFound = errors.New("product not found")

// Variant identifies a color/size combination of a product. Either field may
// be empty for products sold without that option.
type Variant struct {
	Color string
	Size  string
}

func (v Variant) String() string {
	switch {
	case v.Color != "" && v.Size != "":
		return v.Color + "/" + v.Size
	case v.Color != "":
		return v.Color
	case v.Size != "":
		return v.Size
	default:
		return "default"
	}
}

// Product represents a catalog item available for purchase.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	BasePrice   decimal.Decimal
	Variants    []ProductVariant
}

// ProductVariant is a sellable color/size combination with its own stock
// count and unit price.
type ProductVariant struct {
	Variant   Variant
	UnitPrice decimal.Decimal
	Stock     int
}

// InsufficientStockError indicates a reservation request exceeding the
// available stock for a product variant.
type InsufficientStockError struct {
	ProductID string
	Variant   Variant
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (%s): requested %d",
		e.ProductID, e.Variant, e.Requested)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Inventory reserves and releases stock. ReserveStock must atomically verify
// and decrement the variant's stock, returning *InsufficientStockError when
// the requested quantity does not fit. ReleaseStock compensates an aborted
// reservation.
type Inventory interface {
	ReserveStock(ctx context.Context, productID string, v Variant, quantity int) error
	ReleaseStock(ctx context.Context, productID string, v Variant, quantity int) error
}

// Pricing resolves the unit price for a product variant.
type Pricing interface {
	UnitPrice(ctx context.Context, productID string, v Variant) (decimal.Decimal, error)
}
