package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/giftcard"
	"github.com/fernshop/admingate/internal/model"
)

// GiftCardHandler serves the admin gift-card console and the public
// checkout validation endpoint.
type GiftCardHandler struct {
	service *giftcard.Service
}

// NewGiftCardHandler creates a GiftCardHandler.
func NewGiftCardHandler(service *giftcard.Service) *GiftCardHandler {
	return &GiftCardHandler{service: service}
}

// cardView is the admin-facing shape. Balances travel as integer pence.
type cardView struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	InitialBalance int64      `json:"initialBalance"`
	CurrentBalance int64      `json:"currentBalance"`
	Status         string     `json:"status"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	ActivatedAt    time.Time  `json:"activatedAt"`
	Source         string     `json:"source,omitempty"`
	PurchaserEmail string     `json:"purchaserEmail,omitempty"`
	RecipientEmail string     `json:"recipientEmail,omitempty"`
	RecipientName  string     `json:"recipientName,omitempty"`
}

func cardViewOf(c model.GiftCard) cardView {
	return cardView{
		ID:             c.ID.String(),
		Code:           c.Code,
		InitialBalance: int64(c.InitialBalance),
		CurrentBalance: int64(c.CurrentBalance),
		Status:         string(c.Status),
		ExpiresAt:      c.ExpiresAt,
		ActivatedAt:    c.ActivatedAt,
		Source:         c.Source,
		PurchaserEmail: c.PurchaserEmail,
		RecipientEmail: c.RecipientEmail,
		RecipientName:  c.RecipientName,
	}
}

type txnView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	PostBalance int64     `json:"postBalance"`
	OrderID     string    `json:"orderId,omitempty"`
	Note        string    `json:"note,omitempty"`
	ActorID     string    `json:"actorId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func txnViewOf(t model.GiftCardTransaction) txnView {
	v := txnView{
		ID:          t.ID.String(),
		Type:        string(t.Type),
		Amount:      int64(t.Amount),
		PostBalance: int64(t.PostBalance),
		OrderID:     t.OrderID,
		Note:        t.Note,
		CreatedAt:   t.CreatedAt,
	}
	if t.ActorID != nil {
		v.ActorID = t.ActorID.String()
	}
	return v
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func actorPtr(r *http.Request) *uuid.UUID {
	if id, ok := actorID(r); ok {
		return &id
	}
	return nil
}

// List handles GET /admin/gift-cards.
func (h *GiftCardHandler) List(w http.ResponseWriter, r *http.Request) {
	cards, err := h.service.List(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	views := make([]cardView, len(cards))
	for i, c := range cards {
		views[i] = cardViewOf(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"giftCards": views})
}

// Get handles GET /admin/gift-cards/{id}: the card plus its full ledger.
func (h *GiftCardHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed gift card id")
		return
	}
	card, txns, err := h.service.Get(r.Context(), id)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	views := make([]txnView, len(txns))
	for i, t := range txns {
		views[i] = txnViewOf(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"giftCard":     cardViewOf(card),
		"transactions": views,
	})
}

// Create handles POST /admin/gift-cards.
func (h *GiftCardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitialBalance int64      `json:"initialBalance"`
		ExpiresAt      *time.Time `json:"expiresAt"`
		Source         string     `json:"source"`
		PurchaserEmail string     `json:"purchaserEmail"`
		RecipientEmail string     `json:"recipientEmail"`
		RecipientName  string     `json:"recipientName"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	source := req.Source
	if source == "" {
		source = "admin"
	}
	card, err := h.service.Create(r.Context(), giftcard.CreateInput{
		InitialBalance: model.Pence(req.InitialBalance),
		ExpiresAt:      req.ExpiresAt,
		Source:         source,
		PurchaserEmail: req.PurchaserEmail,
		RecipientEmail: req.RecipientEmail,
		RecipientName:  req.RecipientName,
		ActorID:        actorPtr(r),
	})
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = card.ID.String()
		note.Detail = map[string]string{
			"initial_balance": strconv.FormatInt(int64(card.InitialBalance), 10),
		}
	}
	writeJSON(w, http.StatusCreated, cardViewOf(card))
}

// Adjust handles POST /admin/gift-cards/{id}/adjust.
func (h *GiftCardHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed gift card id")
		return
	}
	var req struct {
		NewBalance int64  `json:"newBalance"`
		Note       string `json:"note"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	card, err := h.service.Adjust(r.Context(), id, model.Pence(req.NewBalance), req.Note, actorPtr(r))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = card.ID.String()
		note.Detail = map[string]string{
			"new_balance": strconv.FormatInt(int64(card.CurrentBalance), 10),
		}
	}
	writeJSON(w, http.StatusOK, cardViewOf(card))
}

// Cancel handles POST /admin/gift-cards/{id}/cancel.
func (h *GiftCardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed gift card id")
		return
	}
	card, err := h.service.Cancel(r.Context(), id, actorPtr(r))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = card.ID.String()
	}
	writeJSON(w, http.StatusOK, cardViewOf(card))
}

// Validate handles the public POST /validate-gift-card. Checkout clients
// speak two-decimal pound amounts; the conversion to the ledger's integer
// pence happens here and nowhere deeper. The response is deliberately
// narrow: balances relevant to the order, never purchaser or recipient
// identity.
func (h *GiftCardHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string  `json:"code"`
		Subtotal float64 `json:"subtotal"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Subtotal < 0 {
		writeError(w, http.StatusBadRequest, "subtotal must not be negative")
		return
	}

	res, err := h.service.Validate(r.Context(), req.Code, model.PoundsToPence(req.Subtotal))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":               true,
		"balance":             res.Balance.Pounds(),
		"applicable":          res.Applicable.Pounds(),
		"remaining_after_use": res.RemainingAfterUse.Pounds(),
		"covers_full_order":   res.CoversFullOrder,
	})
}
