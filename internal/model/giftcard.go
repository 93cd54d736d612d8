package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Pence is a monetary amount in integer minor units. Balances and
// transaction amounts are kept in pence so that the ledger invariant
// (balance = initial + sum of transaction amounts) holds exactly.
type Pence int64

// Pounds renders the amount as a two-decimal float for API responses.
func (p Pence) Pounds() float64 {
	return float64(p) / 100
}

// PoundsToPence converts a two-decimal amount to minor units, rounding
// half away from zero.
func PoundsToPence(v float64) Pence {
	return Pence(math.Round(v * 100))
}

// GiftCardStatus is the lifecycle state of a gift card.
type GiftCardStatus string

const (
	GiftCardActive    GiftCardStatus = "active"
	GiftCardDepleted  GiftCardStatus = "depleted"
	GiftCardExpired   GiftCardStatus = "expired"
	GiftCardCancelled GiftCardStatus = "cancelled"
)

// Terminal reports whether no further redemption is possible from this
// status. Expired and cancelled cards stay readable but refuse redemption.
func (s GiftCardStatus) Terminal() bool {
	return s == GiftCardExpired || s == GiftCardCancelled
}

// GiftCard is a stored-value card. CurrentBalance never exceeds
// InitialBalance and never goes negative.
type GiftCard struct {
	ID             uuid.UUID
	Code           string // canonical form: upper-cased, trimmed
	InitialBalance Pence
	CurrentBalance Pence
	Status         GiftCardStatus
	ExpiresAt      *time.Time
	ActivatedAt    time.Time
	Source         string
	PurchaserEmail string
	RecipientEmail string
	RecipientName  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GiftCardTransactionType tags a ledger entry.
type GiftCardTransactionType string

const (
	TxnActivation GiftCardTransactionType = "activation"
	TxnRedemption GiftCardTransactionType = "redemption"
	TxnRefund     GiftCardTransactionType = "refund"
	TxnAdjustment GiftCardTransactionType = "adjustment"
	TxnExpiration GiftCardTransactionType = "expiration"
)

// GiftCardTransaction is an immutable ledger entry. Amount is signed:
// positive increases the balance. PostBalance snapshots the card balance
// immediately after the entry was applied.
type GiftCardTransaction struct {
	ID          uuid.UUID
	GiftCardID  uuid.UUID
	Type        GiftCardTransactionType
	Amount      Pence
	PostBalance Pence
	OrderID     string
	Note        string
	ActorID     *uuid.UUID
	CreatedAt   time.Time
}
