// Package giftcard maintains the stored-value ledger: unique code
// allocation, append-only transactions, and the monotone relationship
// between balance and transaction history.
package giftcard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/crypto"
	"github.com/fernshop/admingate/internal/logger"
	"github.com/fernshop/admingate/internal/metrics"
	"github.com/fernshop/admingate/internal/model"
)

const (
	codePrefix     = "GC"
	codeGroupSize  = 4
	codeGroups     = 3
	codeMaxRetries = 10
)

var (
	// ErrInvalidCode is returned when no card matches the submitted code.
	ErrInvalidCode = errors.New("invalid gift card code")
	// ErrCodeExhausted is returned after repeated code collisions.
	ErrCodeExhausted = errors.New("gift card code space exhausted")
	// ErrInvalidAmount is returned for non-positive or over-balance amounts.
	ErrInvalidAmount = errors.New("invalid gift card amount")
	// ErrCardTerminal is returned when mutating an expired or cancelled card.
	ErrCardTerminal = errors.New("gift card is in a terminal state")
)

// NotActiveError rejects redemption or validation of a card that is not
// redeemable, carrying the sub-reason for the caller's message.
type NotActiveError struct {
	Reason model.GiftCardStatus
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("gift card not active: %s", e.Reason)
}

// Store is the persistence contract. ApplyTransaction must serialize
// concurrent mutations of the same card: it re-reads the card under a
// row lock, applies fn, and commits the new balance, status, and ledger
// entry atomically.
type Store interface {
	Create(ctx context.Context, card model.GiftCard, activation model.GiftCardTransaction) error
	GetByCode(ctx context.Context, code string) (model.GiftCard, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.GiftCard, error)
	List(ctx context.Context, limit, offset int) ([]model.GiftCard, error)
	Transactions(ctx context.Context, cardID uuid.UUID) ([]model.GiftCardTransaction, error)
	ApplyTransaction(ctx context.Context, cardID uuid.UUID, fn ApplyFunc) (model.GiftCard, model.GiftCardTransaction, error)
}

// ApplyFunc mutates the locked card in place and returns the ledger entry
// describing the mutation. Returning an error aborts without writing.
type ApplyFunc func(card *model.GiftCard) (model.GiftCardTransaction, error)

// Service is the ledger component.
type Service struct {
	store   Store
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Service.
func New(store Store, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{store: store, log: log, metrics: m, now: time.Now}
}

// Canonicalize maps a submitted code to its stored canonical form.
func Canonicalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newCode() (string, error) {
	groups := make([]string, 0, codeGroups)
	for i := 0; i < codeGroups; i++ {
		g, err := crypto.RandomCode(crypto.CodeAlphabet, codeGroupSize)
		if err != nil {
			return "", err
		}
		groups = append(groups, g)
	}
	return codePrefix + "-" + strings.Join(groups, "-"), nil
}

// CreateInput describes a new card.
type CreateInput struct {
	InitialBalance model.Pence
	ExpiresAt      *time.Time
	Source         string
	PurchaserEmail string
	RecipientEmail string
	RecipientName  string
	ActorID        *uuid.UUID
}

// Create allocates a fresh code and writes the card together with its
// activation transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.GiftCard, error) {
	if in.InitialBalance <= 0 {
		return model.GiftCard{}, ErrInvalidAmount
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return model.GiftCard{}, fmt.Errorf("%w: expiry already past", ErrInvalidAmount)
	}

	for attempt := 0; attempt < codeMaxRetries; attempt++ {
		code, err := newCode()
		if err != nil {
			return model.GiftCard{}, err
		}

		now := s.now().UTC()
		card := model.GiftCard{
			ID:             uuid.New(),
			Code:           code,
			InitialBalance: in.InitialBalance,
			CurrentBalance: in.InitialBalance,
			Status:         model.GiftCardActive,
			ExpiresAt:      in.ExpiresAt,
			ActivatedAt:    now,
			Source:         in.Source,
			PurchaserEmail: in.PurchaserEmail,
			RecipientEmail: in.RecipientEmail,
			RecipientName:  in.RecipientName,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		activation := model.GiftCardTransaction{
			ID:          uuid.New(),
			GiftCardID:  card.ID,
			Type:        model.TxnActivation,
			Amount:      in.InitialBalance,
			PostBalance: in.InitialBalance,
			ActorID:     in.ActorID,
			CreatedAt:   now,
		}

		err = s.store.Create(ctx, card, activation)
		if err == nil {
			s.metrics.Inc(metrics.GiftCardIssued)
			return card, nil
		}
		if !errors.Is(err, model.ErrDuplicateCode) {
			return model.GiftCard{}, err
		}
	}
	return model.GiftCard{}, ErrCodeExhausted
}

// ValidationResult is returned by Validate for the checkout page.
type ValidationResult struct {
	Balance           model.Pence
	Applicable        model.Pence
	RemainingAfterUse model.Pence
	CoversFullOrder   bool
}

// Validate looks up a card at checkout and computes how much of the
// subtotal it can cover. Discovering a past expiry transitions the card to
// expired and writes the corresponding expiration transaction.
func (s *Service) Validate(ctx context.Context, code string, subtotal model.Pence) (ValidationResult, error) {
	card, err := s.store.GetByCode(ctx, Canonicalize(code))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ValidationResult{}, ErrInvalidCode
		}
		return ValidationResult{}, err
	}

	if card.Status == model.GiftCardActive && card.ExpiresAt != nil && !card.ExpiresAt.After(s.now()) {
		card, err = s.expire(ctx, card.ID)
		if err != nil {
			return ValidationResult{}, err
		}
	}
	if card.Status != model.GiftCardActive {
		return ValidationResult{}, &NotActiveError{Reason: card.Status}
	}

	applicable := card.CurrentBalance
	if subtotal < applicable {
		applicable = subtotal
	}
	return ValidationResult{
		Balance:           card.CurrentBalance,
		Applicable:        applicable,
		RemainingAfterUse: card.CurrentBalance - applicable,
		CoversFullOrder:   applicable >= subtotal,
	}, nil
}

func (s *Service) expire(ctx context.Context, cardID uuid.UUID) (model.GiftCard, error) {
	card, _, err := s.store.ApplyTransaction(ctx, cardID, func(card *model.GiftCard) (model.GiftCardTransaction, error) {
		if card.Status != model.GiftCardActive {
			// Someone else already moved it; nothing to write.
			return model.GiftCardTransaction{}, errAlreadyTransitioned
		}
		amount := -card.CurrentBalance
		card.CurrentBalance = 0
		card.Status = model.GiftCardExpired
		return model.GiftCardTransaction{
			ID:          uuid.New(),
			GiftCardID:  card.ID,
			Type:        model.TxnExpiration,
			Amount:      amount,
			PostBalance: 0,
			Note:        "expired",
			CreatedAt:   s.now().UTC(),
		}, nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyTransitioned) {
			return s.store.GetByID(ctx, cardID)
		}
		return model.GiftCard{}, err
	}
	s.metrics.Inc(metrics.GiftCardExpired)
	return card, nil
}

var errAlreadyTransitioned = errors.New("card already transitioned")

// Redeem decrements the balance inside a single serialized transaction.
// The decrement is bounded at zero: an amount exceeding the balance is
// rejected rather than clamped. Invoked by the order pipeline.
func (s *Service) Redeem(ctx context.Context, code string, amount model.Pence, orderID string) (model.GiftCard, error) {
	if amount <= 0 {
		return model.GiftCard{}, ErrInvalidAmount
	}
	card, err := s.store.GetByCode(ctx, Canonicalize(code))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.GiftCard{}, ErrInvalidCode
		}
		return model.GiftCard{}, err
	}

	card, _, err = s.store.ApplyTransaction(ctx, card.ID, func(card *model.GiftCard) (model.GiftCardTransaction, error) {
		if card.Status != model.GiftCardActive {
			return model.GiftCardTransaction{}, &NotActiveError{Reason: card.Status}
		}
		post := card.CurrentBalance - amount
		if post < 0 {
			return model.GiftCardTransaction{}, ErrInvalidAmount
		}
		card.CurrentBalance = post
		if post == 0 {
			card.Status = model.GiftCardDepleted
		}
		return model.GiftCardTransaction{
			ID:          uuid.New(),
			GiftCardID:  card.ID,
			Type:        model.TxnRedemption,
			Amount:      -amount,
			PostBalance: post,
			OrderID:     orderID,
			CreatedAt:   s.now().UTC(),
		}, nil
	})
	if err != nil {
		return model.GiftCard{}, err
	}

	s.metrics.Inc(metrics.GiftCardRedeemed)
	if card.Status == model.GiftCardDepleted {
		s.metrics.Inc(metrics.GiftCardDepleted)
	}
	return card, nil
}

// Adjust sets a new balance administratively, appending an adjustment
// transaction carrying the signed delta. Terminal cards are not
// adjustable.
func (s *Service) Adjust(ctx context.Context, cardID uuid.UUID, newBalance model.Pence, note string, actorID *uuid.UUID) (model.GiftCard, error) {
	if newBalance < 0 {
		return model.GiftCard{}, ErrInvalidAmount
	}

	card, _, err := s.store.ApplyTransaction(ctx, cardID, func(card *model.GiftCard) (model.GiftCardTransaction, error) {
		if card.Status.Terminal() {
			return model.GiftCardTransaction{}, ErrCardTerminal
		}
		if newBalance > card.InitialBalance {
			return model.GiftCardTransaction{}, fmt.Errorf("%w: balance above initial value", ErrInvalidAmount)
		}
		delta := newBalance - card.CurrentBalance
		card.CurrentBalance = newBalance
		if newBalance == 0 {
			card.Status = model.GiftCardDepleted
		} else {
			card.Status = model.GiftCardActive
		}
		return model.GiftCardTransaction{
			ID:          uuid.New(),
			GiftCardID:  card.ID,
			Type:        model.TxnAdjustment,
			Amount:      delta,
			PostBalance: newBalance,
			Note:        note,
			ActorID:     actorID,
			CreatedAt:   s.now().UTC(),
		}, nil
	})
	if err != nil {
		return model.GiftCard{}, err
	}
	return card, nil
}

// Cancel moves a card to the cancelled terminal state. A remaining balance
// is zeroed with a compensating transaction so the balance always equals
// the transaction sum.
func (s *Service) Cancel(ctx context.Context, cardID uuid.UUID, actorID *uuid.UUID) (model.GiftCard, error) {
	card, _, err := s.store.ApplyTransaction(ctx, cardID, func(card *model.GiftCard) (model.GiftCardTransaction, error) {
		if card.Status.Terminal() {
			return model.GiftCardTransaction{}, ErrCardTerminal
		}
		amount := -card.CurrentBalance
		card.CurrentBalance = 0
		card.Status = model.GiftCardCancelled
		return model.GiftCardTransaction{
			ID:          uuid.New(),
			GiftCardID:  card.ID,
			Type:        model.TxnAdjustment,
			Amount:      amount,
			PostBalance: 0,
			Note:        "cancelled",
			ActorID:     actorID,
			CreatedAt:   s.now().UTC(),
		}, nil
	})
	if err != nil {
		return model.GiftCard{}, err
	}

	s.metrics.Inc(metrics.GiftCardCancelled)
	return card, nil
}

// Get returns a card with its full ledger.
func (s *Service) Get(ctx context.Context, cardID uuid.UUID) (model.GiftCard, []model.GiftCardTransaction, error) {
	card, err := s.store.GetByID(ctx, cardID)
	if err != nil {
		return model.GiftCard{}, nil, err
	}
	txns, err := s.store.Transactions(ctx, cardID)
	if err != nil {
		return model.GiftCard{}, nil, err
	}
	return card, txns, nil
}

// List returns cards for the admin console.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.GiftCard, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, limit, offset)
}
