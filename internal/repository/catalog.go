package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT id, name, description, category, base_price
		FROM products ORDER BY id`

	getProductByIDSQL = `SELECT id, name, description, category, base_price
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, description, category, base_price
		FROM products WHERE id = ANY($1) ORDER BY id`

	listVariantsSQL = `SELECT product_id, color, size, unit_price, stock
		FROM product_variants WHERE product_id = ANY($1)
		ORDER BY product_id, color, size`

	getUnitPriceSQL = `SELECT unit_price FROM product_variants
		WHERE product_id = $1 AND color = $2 AND size = $3`

	reserveStockSQL = `UPDATE product_variants SET stock = stock - $4
		WHERE product_id = $1 AND color = $2 AND size = $3 AND stock >= $4`

	releaseStockSQL = `UPDATE product_variants SET stock = stock + $4
		WHERE product_id = $1 AND color = $2 AND size = $3`

	variantExistsSQL = `SELECT EXISTS (SELECT 1 FROM product_variants
		WHERE product_id = $1 AND color = $2 AND size = $3)`
)

var (
	_ catalog.Repository = (*ProductRepository)(nil)
	_ catalog.Inventory  = (*ProductRepository)(nil)
	_ catalog.Pricing    = (*ProductRepository)(nil)
)

// ProductRepository implements the catalog contracts backed by PostgreSQL.
// Variants live in their own table keyed by (product_id, color, size), with
// empty strings standing in for absent options so the key stays NOT NULL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns the full catalog with variants attached.
func (r *ProductRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	if err := r.attachVariants(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetByID returns a single product with its variants.
// Returns catalog.ErrNotFound when no such product exists.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	products := []catalog.Product{p}
	if err := r.attachVariants(ctx, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// GetByIDs returns products matching any of the given IDs, with variants.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	if err := r.attachVariants(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// UnitPrice resolves the unit price for a product variant.
// Returns catalog.ErrNotFound when the variant does not exist.
func (r *ProductRepository) UnitPrice(ctx context.Context, productID string, v catalog.Variant) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.pool.QueryRow(ctx, getUnitPriceSQL, productID, v.Color, v.Size).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, catalog.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("pricing product %q (%s): %w", productID, v, err)
	}
	return price, nil
}

// ReserveStock atomically decrements the variant's stock. The WHERE clause
// carries the stock check, so two concurrent reservations cannot both win the
// last units.
func (r *ProductRepository) ReserveStock(ctx context.Context, productID string, v catalog.Variant, quantity int) error {
	tag, err := r.pool.Exec(ctx, reserveStockSQL, productID, v.Color, v.Size, quantity)
	if err != nil {
		return fmt.Errorf("reserving stock for product %q (%s): %w", productID, v, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, variantExistsSQL, productID, v.Color, v.Size).Scan(&exists); err != nil {
			return fmt.Errorf("reserving stock for product %q (%s): %w", productID, v, err)
		}
		if !exists {
			return catalog.ErrNotFound
		}
		return &catalog.InsufficientStockError{ProductID: productID, Variant: v, Requested: quantity}
	}
	return nil
}

// ReleaseStock returns previously reserved units to the variant.
func (r *ProductRepository) ReleaseStock(ctx context.Context, productID string, v catalog.Variant, quantity int) error {
	_, err := r.pool.Exec(ctx, releaseStockSQL, productID, v.Color, v.Size, quantity)
	if err != nil {
		return fmt.Errorf("releasing stock for product %q (%s): %w", productID, v, err)
	}
	return nil
}

// attachVariants loads and groups variants for the given products in a single
// query.
func (r *ProductRepository) attachVariants(ctx context.Context, products []catalog.Product) error {
	if len(products) == 0 {
		return nil
	}

	ids := make([]string, len(products))
	index := make(map[string]*catalog.Product, len(products))
	for i := range products {
		ids[i] = products[i].ID
		index[products[i].ID] = &products[i]
	}

	rows, err := r.pool.Query(ctx, listVariantsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing product variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			pv        catalog.ProductVariant
			price     decimal.Decimal
			stock     int32
		)
		if err := rows.Scan(&productID, &pv.Variant.Color, &pv.Variant.Size, &price, &stock); err != nil {
			return fmt.Errorf("scanning product variant: %w", err)
		}
		pv.UnitPrice = price
		pv.Stock = int(stock)
		if p, ok := index[productID]; ok {
			p.Variants = append(p.Variants, pv)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing product variants: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p     catalog.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &price)
	p.BasePrice = price
	return p, err
}
