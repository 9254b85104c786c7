package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/order"
	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

const (
	createOrderSQL = `INSERT INTO orders
		(id, user_id, items, amount, address_id, status, payment_method, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getOrderSQL = `SELECT id, user_id, items, amount, address_id, status, payment_method, payment_status, created_at
		FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT id, user_id, items, amount, address_id, status, payment_method, payment_status, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $3
		WHERE id = $1 AND status = $2`

	updateOrderPaymentStatusSQL = `UPDATE orders SET payment_status = $3
		WHERE id = $1 AND payment_status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items are stored as a JSONB column; status updates are conditional on the
// expected current value so concurrent writers serialize through
// rows-affected rather than row locks.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.Amount, o.AddressID,
		string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns a single order by ID. Returns order.ErrNotFound when missing.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return orders, nil
}

// UpdateStatus moves the order from the expected status to the new one.
// Returns storage.ErrConcurrencyConflict when the order exists but its status
// has moved on, and order.ErrNotFound when the order is missing.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	return r.conditionalUpdate(ctx, updateOrderStatusSQL, id, string(from), string(to))
}

// UpdatePaymentStatus moves the order's payment status conditionally, with
// the same conflict semantics as UpdateStatus.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id string, from, to order.PaymentStatus) error {
	return r.conditionalUpdate(ctx, updateOrderPaymentStatusSQL, id, string(from), string(to))
}

func (r *OrderRepository) conditionalUpdate(ctx context.Context, sql, id, from, to string) error {
	tag, err := r.pool.Exec(ctx, sql, id, from, to)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
			return fmt.Errorf("updating order %q: %w", id, err)
		}
		if !exists {
			return order.ErrNotFound
		}
		return storage.ErrConcurrencyConflict
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		itemsJSON     []byte
		amount        decimal.Decimal
		status        string
		paymentMethod string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &amount, &o.AddressID,
		&status, &paymentMethod, &paymentStatus, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.Amount = amount
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, nil
}
