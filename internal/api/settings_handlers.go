package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fernshop/admingate/internal/model"
)

// SettingsStore is the single-row store behind /admin/settings.
type SettingsStore interface {
	Get(ctx context.Context) (model.Settings, error)
	Upsert(ctx context.Context, s model.Settings) (model.Settings, error)
	Delete(ctx context.Context) error
}

// SettingsHandler serves the storewide settings document.
type SettingsHandler struct {
	store SettingsStore
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(store SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// defaultSettings is what a fresh or reset store reports.
func defaultSettings() model.Settings {
	return model.Settings{
		StoreName:    "Fernshop",
		SupportEmail: "support@fernshop.example",
		Currency:     "GBP",
	}
}

// Get handles GET /admin/settings. A missing row is not an error; the
// defaults are served instead.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Get(r.Context())
	if errors.Is(err, model.ErrNotFound) {
		settings = defaultSettings()
	} else if err != nil {
		mapDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Update handles PUT /admin/settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreName    string `json:"storeName"`
		SupportEmail string `json:"supportEmail"`
		Currency     string `json:"currency"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.StoreName == "" || req.SupportEmail == "" || len(req.Currency) != 3 {
		writeError(w, http.StatusBadRequest, "store name, support email and a 3-letter currency are required")
		return
	}

	settings, err := h.store.Upsert(r.Context(), model.Settings{
		StoreName:    strings.TrimSpace(req.StoreName),
		SupportEmail: strings.TrimSpace(req.SupportEmail),
		Currency:     req.Currency,
	})
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if note := NoteFrom(r.Context()); note != nil {
		note.Detail = map[string]string{"store_name": settings.StoreName, "currency": settings.Currency}
	}
	writeJSON(w, http.StatusOK, settings)
}

// Reset handles DELETE /admin/settings: drops the stored row so defaults
// apply again.
func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context()); err != nil && !errors.Is(err, model.ErrNotFound) {
		mapDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defaultSettings())
}
