package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fernshop/admingate/internal/giftcard"
	"github.com/fernshop/admingate/internal/model"
	"github.com/fernshop/admingate/internal/session"
	"github.com/fernshop/admingate/internal/staff"
	"github.com/fernshop/admingate/internal/token"
)

// writeJSON marshals v with the given status. Encoding failures after the
// header is written cannot be reported to the client; they surface in the
// request log only.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform {"error": "..."} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRateLimited emits a 429 with the retry hint in seconds.
func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               "too many attempts, try again later",
		"retry_after_seconds": retryAfter,
	})
}

// mapDomainError translates service errors to the response taxonomy.
// Anything unrecognized becomes an opaque 500.
func mapDomainError(w http.ResponseWriter, err error) {
	var notActive *giftcard.NotActiveError
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, giftcard.ErrInvalidCode):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already in use")
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "conflicting update, retry")
	case errors.Is(err, session.ErrChallengeAlreadyEnabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, staff.ErrSelfChange),
		errors.Is(err, staff.ErrSoleOwner),
		errors.Is(err, staff.ErrInvalidInput),
		errors.Is(err, giftcard.ErrInvalidAmount),
		errors.Is(err, giftcard.ErrCardTerminal):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notActive):
		writeError(w, http.StatusBadRequest, notActive.Error())
	case errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrChallengeCodeInvalid),
		errors.Is(err, session.ErrBackupCodeInvalid),
		errors.Is(err, session.ErrChallengeTokenInvalid),
		errors.Is(err, session.ErrRefreshInvalid):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, token.ErrExpiredToken), errors.Is(err, token.ErrBadToken):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads a JSON request body into dst, rejecting trailing
// garbage.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
