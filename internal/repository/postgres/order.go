package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fernshop/admingate/internal/model"
	"github.com/fernshop/admingate/internal/pii"
)

// OrderRepository persists orders. The designated sensitive fields (phone,
// shipping address) pass through the PII envelope here, so every caller
// above this layer sees plaintext and every row below it sees ciphertext.
type OrderRepository struct {
	db       *Connection
	envelope *pii.Envelope
}

// NewOrderRepository creates an OrderRepository.
func NewOrderRepository(db *Connection, envelope *pii.Envelope) *OrderRepository {
	return &OrderRepository{db: db, envelope: envelope}
}

const orderColumns = `id, customer_email, status, phone, shipping_address, total, created_at, updated_at`

func (r *OrderRepository) scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var phone, address string
	err := row.Scan(&o.ID, &o.CustomerEmail, &o.Status, &phone, &address, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, model.ErrNotFound
		}
		return model.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	o.Phone = r.envelope.OpenPhone(phone)
	o.ShippingAddress = r.envelope.OpenAddress(address)
	return o, nil
}

// Create inserts an order with sealed sensitive fields.
func (r *OrderRepository) Create(ctx context.Context, o model.Order) (model.Order, error) {
	sealedAddress, err := r.envelope.SealAddress(o.ShippingAddress)
	if err != nil {
		return model.Order{}, fmt.Errorf("failed to seal shipping address: %w", err)
	}

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING ` + orderColumns
	return r.scanOrder(r.db.QueryRow(ctx, query,
		o.ID, o.CustomerEmail, o.Status, r.envelope.SealPhone(o.Phone), sealedAddress, o.Total, o.CreatedAt,
	))
}

// GetByID returns one order with opened fields.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (model.Order, error) {
	return r.scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// List pages orders, newest first.
func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]model.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateStatus moves an order through fulfilment states.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (model.Order, error) {
	query := `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING ` + orderColumns
	return r.scanOrder(r.db.QueryRow(ctx, query, id, status))
}
