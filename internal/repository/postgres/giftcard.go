package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fernshop/admingate/internal/giftcard"
	"github.com/fernshop/admingate/internal/model"
)

var _ giftcard.Store = (*GiftCardRepository)(nil)

// GiftCardRepository persists the gift-card ledger.
type GiftCardRepository struct {
	db *Connection
}

// NewGiftCardRepository creates a GiftCardRepository.
func NewGiftCardRepository(db *Connection) *GiftCardRepository {
	return &GiftCardRepository{db: db}
}

const cardColumns = `id, code, initial_balance, current_balance, status, expires_at,
	activated_at, source, purchaser_email, recipient_email, recipient_name, created_at, updated_at`

func scanCard(row pgx.Row) (model.GiftCard, error) {
	var c model.GiftCard
	err := row.Scan(
		&c.ID, &c.Code, &c.InitialBalance, &c.CurrentBalance, &c.Status, &c.ExpiresAt,
		&c.ActivatedAt, &c.Source, &c.PurchaserEmail, &c.RecipientEmail, &c.RecipientName,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GiftCard{}, model.ErrNotFound
		}
		return model.GiftCard{}, fmt.Errorf("failed to scan gift card: %w", err)
	}
	return c, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t model.GiftCardTransaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO gift_card_transactions (id, gift_card_id, type, amount, post_balance, order_id, note, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.GiftCardID, t.Type, t.Amount, t.PostBalance, t.OrderID, t.Note, t.ActorID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert gift card transaction: %w", err)
	}
	return nil
}

// Create writes a card and its activation transaction atomically. Code
// collisions map to model.ErrDuplicateCode so the service can retry with a
// fresh code.
func (r *GiftCardRepository) Create(ctx context.Context, card model.GiftCard, activation model.GiftCardTransaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO gift_cards (`+cardColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		card.ID, card.Code, card.InitialBalance, card.CurrentBalance, card.Status, card.ExpiresAt,
		card.ActivatedAt, card.Source, card.PurchaserEmail, card.RecipientEmail, card.RecipientName,
		card.CreatedAt, card.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert gift card: %w", err)
	}

	if err := insertTransaction(ctx, tx, activation); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByCode looks up a card by its canonical code.
func (r *GiftCardRepository) GetByCode(ctx context.Context, code string) (model.GiftCard, error) {
	return scanCard(r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM gift_cards WHERE code = $1`, code))
}

// GetByID looks up a card by id.
func (r *GiftCardRepository) GetByID(ctx context.Context, id uuid.UUID) (model.GiftCard, error) {
	return scanCard(r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM gift_cards WHERE id = $1`, id))
}

// List pages cards, newest first.
func (r *GiftCardRepository) List(ctx context.Context, limit, offset int) ([]model.GiftCard, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+cardColumns+` FROM gift_cards ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list gift cards: %w", err)
	}
	defer rows.Close()

	var cards []model.GiftCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Transactions returns the ledger for one card in insertion order.
func (r *GiftCardRepository) Transactions(ctx context.Context, cardID uuid.UUID) ([]model.GiftCardTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, gift_card_id, type, amount, post_balance, order_id, note, actor_id, created_at
		 FROM gift_card_transactions WHERE gift_card_id = $1 ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gift card transactions: %w", err)
	}
	defer rows.Close()

	var txns []model.GiftCardTransaction
	for rows.Next() {
		var t model.GiftCardTransaction
		if err := rows.Scan(&t.ID, &t.GiftCardID, &t.Type, &t.Amount, &t.PostBalance, &t.OrderID, &t.Note, &t.ActorID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gift card transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ApplyTransaction serializes a balance mutation: the card row is locked
// for the duration, fn computes the new state and ledger entry, and the
// balance update plus the insert commit together.
func (r *GiftCardRepository) ApplyTransaction(ctx context.Context, cardID uuid.UUID, fn giftcard.ApplyFunc) (model.GiftCard, model.GiftCardTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.GiftCard{}, model.GiftCardTransaction{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	card, err := scanCard(tx.QueryRow(ctx,
		`SELECT `+cardColumns+` FROM gift_cards WHERE id = $1 FOR UPDATE`, cardID))
	if err != nil {
		return model.GiftCard{}, model.GiftCardTransaction{}, err
	}

	entry, err := fn(&card)
	if err != nil {
		return model.GiftCard{}, model.GiftCardTransaction{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE gift_cards SET current_balance = $2, status = $3, updated_at = now() WHERE id = $1`,
		card.ID, card.CurrentBalance, card.Status)
	if err != nil {
		return model.GiftCard{}, model.GiftCardTransaction{}, fmt.Errorf("failed to update gift card: %w", err)
	}

	if err := insertTransaction(ctx, tx, entry); err != nil {
		return model.GiftCard{}, model.GiftCardTransaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.GiftCard{}, model.GiftCardTransaction{}, fmt.Errorf("failed to commit gift card transaction: %w", err)
	}
	return card, entry, nil
}
