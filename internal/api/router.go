package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fernshop/admingate/internal/audit"
	"github.com/fernshop/admingate/internal/authz"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth      *AuthHandler
	Staff     *StaffHandler
	Settings  *SettingsHandler
	Audit     *AuditHandler
	GiftCards *GiftCardHandler
	Orders    *OrderHandler
	Webhooks  *WebhookHandler
	Metrics   *MetricsHandler
}

// notImplemented backs routes that exist in the privilege map but whose
// bodies live in another service.
func notImplemented(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, "not implemented")
}

// NewRouter builds the route table. Every privileged route goes through
// gate.Protect; the pipeline endpoints and the public validation endpoint
// stay outside it but share CORS, recovery, and request logging.
func NewRouter(gate *Gate, h *Handlers) http.Handler {
	r := mux.NewRouter()
	r.Use(gate.RequestLog)

	// Session pipeline.
	r.HandleFunc("/auth/login", h.Auth.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/challenge", h.Auth.Challenge).Methods(http.MethodPost)
	r.HandleFunc("/auth/challenge-backup", h.Auth.ChallengeBackup).Methods(http.MethodPost)
	r.HandleFunc("/auth/challenge-setup/init", h.Auth.ChallengeSetupInit).Methods(http.MethodPost)
	r.HandleFunc("/auth/challenge-setup/verify", h.Auth.ChallengeSetupVerify).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.Auth.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", h.Auth.Verify).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", h.Auth.Logout).Methods(http.MethodPost)

	// Public surface.
	r.HandleFunc("/validate-gift-card", h.GiftCards.Validate).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{provider}", h.Webhooks.Receive).Methods(http.MethodPost)

	// Admin console.
	r.HandleFunc("/admin/users",
		gate.Protect(authz.ManageUsers, "", h.Staff.List)).Methods(http.MethodGet)
	r.HandleFunc("/admin/users",
		gate.Protect(authz.ManageUsers, audit.ActionUserCreate, h.Staff.Create)).Methods(http.MethodPost)
	r.HandleFunc("/admin/users/{id}",
		gate.Protect(authz.ManageUsers, audit.ActionUserUpdate, h.Staff.Update)).Methods(http.MethodPut)
	r.HandleFunc("/admin/users/{id}",
		gate.Protect(authz.ManageUsers, audit.ActionUserDeactivate, h.Staff.Deactivate)).Methods(http.MethodDelete)
	r.HandleFunc("/admin/users/{id}/backup-codes",
		gate.Protect(authz.ManageUsers, audit.ActionUserBackupReset, h.Staff.ResetBackupCodes)).Methods(http.MethodPost)

	r.HandleFunc("/admin/settings",
		gate.Protect(authz.ViewSettings, "", h.Settings.Get)).Methods(http.MethodGet)
	r.HandleFunc("/admin/settings",
		gate.Protect(authz.EditSettings, audit.ActionSettingsUpdate, h.Settings.Update)).Methods(http.MethodPut)
	r.HandleFunc("/admin/settings",
		gate.Protect(authz.EditSettings, audit.ActionSettingsReset, h.Settings.Reset)).Methods(http.MethodDelete)

	r.HandleFunc("/admin/audit",
		gate.Protect(authz.ViewAuditLogs, "", h.Audit.Query)).Methods(http.MethodGet)
	r.HandleFunc("/admin/metrics",
		gate.Protect(authz.ViewAuditLogs, "", h.Metrics.Snapshot)).Methods(http.MethodGet)

	r.HandleFunc("/admin/gift-cards",
		gate.Protect(authz.ViewGiftCards, "", h.GiftCards.List)).Methods(http.MethodGet)
	r.HandleFunc("/admin/gift-cards",
		gate.Protect(authz.ManageGiftCards, audit.ActionGiftCardCreate, h.GiftCards.Create)).Methods(http.MethodPost)
	r.HandleFunc("/admin/gift-cards/{id}",
		gate.Protect(authz.ViewGiftCards, "", h.GiftCards.Get)).Methods(http.MethodGet)
	r.HandleFunc("/admin/gift-cards/{id}/adjust",
		gate.Protect(authz.ManageGiftCards, audit.ActionGiftCardAdjust, h.GiftCards.Adjust)).Methods(http.MethodPost)
	r.HandleFunc("/admin/gift-cards/{id}/cancel",
		gate.Protect(authz.ManageGiftCards, audit.ActionGiftCardCancel, h.GiftCards.Cancel)).Methods(http.MethodPost)

	r.HandleFunc("/admin/orders",
		gate.Protect(authz.ViewAllOrders, "", h.Orders.List)).Methods(http.MethodGet)
	r.HandleFunc("/admin/orders/{id}",
		gate.Protect(authz.ViewAllOrders, "", h.Orders.Get)).Methods(http.MethodGet)
	r.HandleFunc("/admin/orders/{id}/status",
		gate.Protect(authz.UpdateOrderStatus, audit.ActionOrderStatus, h.Orders.UpdateStatus)).Methods(http.MethodPut)

	// Catalog routes are part of the privilege map; their bodies live in
	// the catalog service.
	r.HandleFunc("/admin/products",
		gate.Protect(authz.CreateProducts, audit.ActionProductWrite, notImplemented)).Methods(http.MethodPost)
	r.HandleFunc("/admin/products/{id}",
		gate.Protect(authz.EditProducts, audit.ActionProductWrite, notImplemented)).Methods(http.MethodPut)
	r.HandleFunc("/admin/products/{id}",
		gate.Protect(authz.DeleteProducts, audit.ActionProductWrite, notImplemented)).Methods(http.MethodDelete)
	r.HandleFunc("/admin/media",
		gate.Protect(authz.UploadMedia, audit.ActionMediaWrite, notImplemented)).Methods(http.MethodPost)
	r.HandleFunc("/admin/discounts",
		gate.Protect(authz.ManageDiscounts, audit.ActionDiscountWrite, notImplemented)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return gate.Recover(gate.CORS(r))
}
