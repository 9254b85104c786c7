package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/returns"
	"github.com/vastramlabs/vastram-core/internal/domain/storage"
)

const (
	createReturnSQL = `INSERT INTO return_requests
		(id, order_id, user_id, items, reason, description, refund_amount, refund_method, status, admin_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getReturnSQL = `SELECT id, order_id, user_id, items, reason, description, refund_amount, refund_method, status, admin_response, created_at
		FROM return_requests WHERE id = $1`

	listReturnsByOrderSQL = `SELECT id, order_id, user_id, items, reason, description, refund_amount, refund_method, status, admin_response, created_at
		FROM return_requests WHERE order_id = $1 ORDER BY created_at DESC`

	updateReturnStatusSQL = `UPDATE return_requests
		SET status = $3, admin_response = CASE WHEN $4 = '' THEN admin_response ELSE $4 END
		WHERE id = $1 AND status = $2`

	returnExistsSQL = `SELECT EXISTS (SELECT 1 FROM return_requests WHERE id = $1)`
)

var _ returns.Repository = (*ReturnRepository)(nil)

// ReturnRepository implements returns.Repository backed by PostgreSQL.
// Returned item refs are stored as a JSONB column.
type ReturnRepository struct {
	pool *pgxpool.Pool
}

// NewReturnRepository returns a ReturnRepository that uses the given pool.
func NewReturnRepository(pool *pgxpool.Pool) *ReturnRepository {
	return &ReturnRepository{pool: pool}
}

// Create persists a new return request.
func (r *ReturnRepository) Create(ctx context.Context, req *returns.Request) error {
	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		return fmt.Errorf("marshaling return items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createReturnSQL,
		req.ID, req.OrderID, req.UserID, itemsJSON,
		string(req.Reason), req.Description, req.RefundAmount, string(req.RefundMethod),
		string(req.Status), req.AdminResponse, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating return request %q: %w", req.ID, err)
	}
	return nil
}

// Get returns a single return request by ID.
// Returns returns.ErrNotFound when missing.
func (r *ReturnRepository) Get(ctx context.Context, id string) (*returns.Request, error) {
	rows, err := r.pool.Query(ctx, getReturnSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting return request %q: %w", id, err)
	}

	req, err := pgx.CollectExactlyOneRow(rows, scanReturn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, returns.ErrNotFound
		}
		return nil, fmt.Errorf("getting return request %q: %w", id, err)
	}
	return &req, nil
}

// ListByOrder returns all return requests filed against an order.
func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]returns.Request, error) {
	rows, err := r.pool.Query(ctx, listReturnsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing returns for order %q: %w", orderID, err)
	}
	reqs, err := pgx.CollectRows(rows, scanReturn)
	if err != nil {
		return nil, fmt.Errorf("listing returns for order %q: %w", orderID, err)
	}
	return reqs, nil
}

// UpdateStatus moves the request from the expected status to the new one,
// recording adminResponse when non-empty. Returns
// storage.ErrConcurrencyConflict when the request exists but its status has
// moved on, and returns.ErrNotFound when the request is missing.
func (r *ReturnRepository) UpdateStatus(ctx context.Context, id string, from, to returns.Status, adminResponse string) error {
	tag, err := r.pool.Exec(ctx, updateReturnStatusSQL, id, string(from), string(to), adminResponse)
	if err != nil {
		return fmt.Errorf("updating return request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, returnExistsSQL, id).Scan(&exists); err != nil {
			return fmt.Errorf("updating return request %q: %w", id, err)
		}
		if !exists {
			return returns.ErrNotFound
		}
		return storage.ErrConcurrencyConflict
	}
	return nil
}

func scanReturn(row pgx.CollectableRow) (returns.Request, error) {
	var (
		req          returns.Request
		itemsJSON    []byte
		reason       string
		refundAmount decimal.Decimal
		refundMethod string
		status       string
	)
	err := row.Scan(
		&req.ID, &req.OrderID, &req.UserID, &itemsJSON,
		&reason, &req.Description, &refundAmount, &refundMethod,
		&status, &req.AdminResponse, &req.CreatedAt,
	)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(itemsJSON, &req.Items); err != nil {
		return req, fmt.Errorf("unmarshaling return items: %w", err)
	}
	req.Reason = returns.Reason(reason)
	req.RefundAmount = refundAmount
	req.RefundMethod = returns.RefundMethod(refundMethod)
	req.Status = returns.Status(status)
	return req, nil
}
