package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/model"
)

// OrderStore is the order surface the console needs. The store decrypts
// phone and shipping address on read; handlers see plaintext.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Order, error)
	List(ctx context.Context, limit, offset int) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (model.Order, error)
}

// validOrderStatuses is the closed set an admin may move an order to.
var validOrderStatuses = map[string]bool{
	"pending":   true,
	"paid":      true,
	"shipped":   true,
	"delivered": true,
	"refunded":  true,
	"cancelled": true,
}

// OrderHandler serves the admin order console.
type OrderHandler struct {
	store OrderStore
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(store OrderStore) *OrderHandler {
	return &OrderHandler{store: store}
}

// List handles GET /admin/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	orders, err := h.store.List(r.Context(), limit, queryInt(r, "offset"))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// Get handles GET /admin/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed order id")
		return
	}
	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateStatus handles PUT /admin/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed order id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !validOrderStatuses[req.Status] {
		writeError(w, http.StatusBadRequest, "unknown order status")
		return
	}

	order, err := h.store.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.TargetID = order.ID.String()
		note.Detail = map[string]string{"status": order.Status}
	}
	writeJSON(w, http.StatusOK, order)
}
