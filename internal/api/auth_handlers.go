package api

import (
	"errors"
	"net/http"

	"github.com/fernshop/admingate/internal/audit"
	"github.com/fernshop/admingate/internal/cookies"
	"github.com/fernshop/admingate/internal/metrics"
	"github.com/fernshop/admingate/internal/session"
	"github.com/fernshop/admingate/internal/token"
)

// AuthHandler serves the unauthenticated session pipeline.
type AuthHandler struct {
	pipeline *session.Pipeline
	tokens   *token.Service
	binder   *cookies.Binder
	auditor  *audit.Dispatcher
	metrics  *metrics.Metrics
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(pipeline *session.Pipeline, tokens *token.Service, binder *cookies.Binder, auditor *audit.Dispatcher, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{pipeline: pipeline, tokens: tokens, binder: binder, auditor: auditor, metrics: m}
}

func userBody(email, role string) map[string]string {
	return map[string]string{"email": email, "role": role}
}

// writeSession sets the cookie triple and echoes the public session shape.
func (h *AuthHandler) writeSession(w http.ResponseWriter, res *session.SessionResult) {
	h.binder.WriteSession(w, res.AccessToken, res.RefreshToken, res.CSRFToken)
	body := map[string]any{"user": userBody(res.User.Email, res.User.Role)}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	writeJSON(w, http.StatusOK, body)
}

func writePipelineError(w http.ResponseWriter, err error) {
	var limited *session.RateLimitedError
	if errors.As(err, &limited) {
		writeRateLimited(w, int(limited.RetryAfter.Seconds()))
		return
	}
	mapDomainError(w, err)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.pipeline.Login(r.Context(), req.Email, req.Password, clientFrom(r))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if res.RequiresChallengeSetup {
		writeJSON(w, http.StatusOK, map[string]any{
			"requiresChallengeSetup": true,
			"setupToken":             res.SetupToken,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requiresChallenge": true,
		"preChallengeToken": res.PreChallengeToken,
	})
}

// Challenge handles POST /auth/challenge: the six-digit code step.
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PreChallengeToken string `json:"preChallengeToken"`
		Code              string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.pipeline.ConfirmChallenge(r.Context(), req.PreChallengeToken, req.Code, clientFrom(r))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	h.writeSession(w, res)
}

// ChallengeBackup handles POST /auth/challenge-backup: single-use recovery
// codes in place of the authenticator.
func (h *AuthHandler) ChallengeBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PreChallengeToken string `json:"preChallengeToken"`
		Code              string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.pipeline.ConfirmBackupCode(r.Context(), req.PreChallengeToken, req.Code, clientFrom(r))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	h.writeSession(w, res)
}

// ChallengeSetupInit handles POST /auth/challenge-setup/init. It yields a
// fresh secret and provisioning URI for first-time enrollment.
func (h *AuthHandler) ChallengeSetupInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SetupToken string `json:"setupToken"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	init, err := h.pipeline.StartChallengeSetup(r.Context(), req.SetupToken)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret":       init.Secret,
		"provisionUri": init.ProvisionURI,
	})
}

// ChallengeSetupVerify handles POST /auth/challenge-setup/verify. A
// correct first code enables the challenge, mints the session, and
// discloses the backup codes exactly once.
func (h *AuthHandler) ChallengeSetupVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SetupToken string `json:"setupToken"`
		Code       string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	verified, err := h.pipeline.CompleteChallengeSetup(r.Context(), req.SetupToken, req.Code, clientFrom(r))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	h.binder.WriteSession(w, verified.Session.AccessToken, verified.Session.RefreshToken, verified.Session.CSRFToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        userBody(verified.Session.User.Email, verified.Session.User.Role),
		"backupCodes": verified.BackupCodes,
	})
}

// Refresh handles POST /auth/refresh: a valid refresh cookie is exchanged
// for a new access token and CSRF value. The refresh cookie itself is left
// alone until its natural expiry.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := cookies.ReadRefresh(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	res, err := h.pipeline.Refresh(r.Context(), raw)
	if err != nil {
		h.binder.Clear(w)
		writePipelineError(w, err)
		return
	}
	client := clientFrom(r)
	h.auditor.Emit(audit.Event{
		Action:     audit.ActionRefresh,
		ActorID:    res.User.ID.String(),
		ActorEmail: res.User.Email,
		IP:         client.IP,
		UserAgent:  client.UserAgent,
	})
	h.binder.WriteAccess(w, res.AccessToken, res.CSRFToken)
	writeJSON(w, http.StatusOK, map[string]any{"user": userBody(res.User.Email, res.User.Role)})
}

// Verify handles GET /auth/verify: reports who the caller is, if anyone.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	raw, ok := token.FromRequest(r, cookies.AccessName)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	desc, err := h.tokens.VerifyKind(raw, token.KindAccess)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user":  userBody(desc.Email, desc.Role),
	})
}

// Logout handles POST /auth/logout: clears the cookie triple. With
// stateless tokens there is nothing to revoke server-side; the audit trail
// still records the event when the caller was identifiable.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if raw, ok := token.FromRequest(r, cookies.AccessName); ok {
		if desc, err := h.tokens.VerifyKind(raw, token.KindAccess); err == nil {
			client := clientFrom(r)
			h.auditor.Emit(audit.Event{
				Action:     audit.ActionLogout,
				ActorID:    desc.UserID,
				ActorEmail: desc.Email,
				IP:         client.IP,
				UserAgent:  client.UserAgent,
			})
		}
	}
	h.metrics.Inc(metrics.Logout)
	h.binder.Clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
