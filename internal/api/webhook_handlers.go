package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fernshop/admingate/internal/crypto"
	"github.com/fernshop/admingate/internal/logger"
	"github.com/fernshop/admingate/internal/metrics"
)

// maxWebhookBody bounds provider payload size.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider callbacks. The raw body must be read
// before any parsing: the signature covers the bytes on the wire.
type WebhookHandler struct {
	secrets map[string]string
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewWebhookHandler creates a WebhookHandler. secrets maps the provider
// path segment to its shared signing secret.
func NewWebhookHandler(secrets map[string]string, log *logger.Logger, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{secrets: secrets, log: log, metrics: m, now: time.Now}
}

// Receive handles POST /webhooks/{provider}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	secret, ok := h.secrets[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := crypto.VerifyWebhook(body, r.Header.Get("Signature"), secret, h.now()); err != nil {
		h.metrics.Inc(metrics.WebhookRejected)
		h.log.Warn("webhook signature rejected", "provider", provider)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	// Receipt is acknowledged once the signature holds; event dispatch is
	// the payment pipeline's concern.
	h.log.Info("webhook accepted", "provider", provider, "type", event.Type)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
