package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fernshop/admingate/internal/audit"
	"github.com/fernshop/admingate/internal/metrics"
)

// AuditHandler serves the read side of the audit log.
type AuditHandler struct {
	store audit.Store
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// Query handles GET /admin/audit with optional actor, action, from,
// to (RFC 3339), limit and offset parameters.
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		ActorEmail: q.Get("actor"),
		Action:     q.Get("action"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed from timestamp")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed to timestamp")
			return
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "malformed limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "malformed offset")
			return
		}
		filter.Offset = n
	}

	events, err := h.store.Query(r.Context(), filter)
	if err != nil {
		mapDomainError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// MetricsHandler exposes the counter snapshot.
type MetricsHandler struct {
	metrics *metrics.Metrics
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m}
}

// Snapshot handles GET /admin/metrics.
func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}
