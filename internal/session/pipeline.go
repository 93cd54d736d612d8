// Package session orchestrates the login, challenge, enrollment, and
// refresh paths. It retains no server-side session state: the only records
// it touches are the rate-limit counters and the identity row, so a
// partially completed request never leaves the system inconsistent.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/audit"
	"github.com/fernshop/admingate/internal/crypto"
	"github.com/fernshop/admingate/internal/logger"
	"github.com/fernshop/admingate/internal/metrics"
	"github.com/fernshop/admingate/internal/model"
	"github.com/fernshop/admingate/internal/password"
	"github.com/fernshop/admingate/internal/rate"
	"github.com/fernshop/admingate/internal/token"
	"github.com/fernshop/admingate/internal/totp"
)

const backupCodeCount = 10

var (
	// ErrInvalidCredentials covers unknown email, wrong password, and
	// inactive account alike; the caller must not learn which applied.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrChallengeTokenInvalid rejects a missing, expired, or wrong-kind
	// pre-challenge or setup token.
	ErrChallengeTokenInvalid = errors.New("invalid challenge token")
	// ErrChallengeCodeInvalid rejects a malformed or mismatched code.
	ErrChallengeCodeInvalid = errors.New("invalid challenge code")
	// ErrBackupCodeInvalid rejects an unknown or already-used backup code.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrChallengeAlreadyEnabled rejects enrollment when a challenge is
	// already configured.
	ErrChallengeAlreadyEnabled = errors.New("challenge already enabled")
	// ErrRefreshInvalid rejects a bad refresh credential.
	ErrRefreshInvalid = errors.New("invalid refresh token")
)

// RateLimitedError carries the remaining window time for the 429 body.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// UserStore is the identity persistence contract the pipeline needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (model.AdminUser, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.AdminUser, error)
	UpdateVerifier(ctx context.Context, id uuid.UUID, verifier string) error
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetChallengeSecret(ctx context.Context, id uuid.UUID, secret string) error
	EnableChallenge(ctx context.Context, id uuid.UUID) error
	ConsumeBackupCode(ctx context.Context, userID uuid.UUID, codeHash string) (remaining int, ok bool, err error)
	ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, codeHashes []string) error
}

// Pipeline wires the crypto, token, limiter, and audit components across
// the authentication paths.
type Pipeline struct {
	users   UserStore
	hasher  *password.Hasher
	tokens  *token.Service
	limiter *rate.Limiter
	auditor *audit.Dispatcher
	log     *logger.Logger
	metrics *metrics.Metrics
	issuer  string
	now     func() time.Time
}

// New creates a Pipeline. issuer labels otpauth enrollment URIs.
func New(
	users UserStore,
	hasher *password.Hasher,
	tokens *token.Service,
	limiter *rate.Limiter,
	auditor *audit.Dispatcher,
	log *logger.Logger,
	m *metrics.Metrics,
	issuer string,
) *Pipeline {
	return &Pipeline{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		limiter: limiter,
		auditor: auditor,
		log:     log,
		metrics: m,
		issuer:  issuer,
		now:     time.Now,
	}
}

// LoginResult is the outcome of a correct password. Exactly one of the
// two tokens is set: pre-challenge when a challenge is enrolled, setup
// otherwise.
type LoginResult struct {
	RequiresChallenge      bool
	PreChallengeToken      string
	RequiresChallengeSetup bool
	SetupToken             string
}

// SessionResult is a terminal success: a full descriptor plus the three
// credentials the cookie binding writes.
type SessionResult struct {
	User         model.AdminUser
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	// Warning is an advisory for the client, e.g. a low backup-code count.
	Warning string
}

// Client identifies the network origin for rate limiting and audit.
type Client struct {
	IP        string
	UserAgent string
}

func (p *Pipeline) emit(action string, user *model.AdminUser, client Client, detail map[string]string) {
	event := audit.Event{
		Action:    action,
		Detail:    detail,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	}
	if user != nil {
		event.ActorID = user.ID.String()
		event.ActorEmail = user.Email
	}
	p.auditor.Emit(event)
}

// Login runs the password step. The rate-limit check precedes credential
// evaluation so a locked-out caller cannot probe the password branch; the
// password path is keyed on the client address.
func (p *Pipeline) Login(ctx context.Context, email, pass string, client Client) (*LoginResult, error) {
	if res := p.limiter.Check(ctx, rate.PurposeLogin, client.IP); !res.Allowed {
		p.metrics.Inc(metrics.LoginRateLimited)
		p.emit(audit.ActionLogin, nil, client, map[string]string{"outcome": "rate_limited"})
		return nil, &RateLimitedError{RetryAfter: res.RetryAfter}
	}

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			p.limiter.RecordFailure(ctx, rate.PurposeLogin, client.IP)
			p.metrics.Inc(metrics.LoginFailure)
			p.emit(audit.ActionLogin, nil, client, map[string]string{"outcome": "unknown_email", "email": email})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active {
		p.metrics.Inc(metrics.LoginFailure)
		p.emit(audit.ActionLogin, &user, client, map[string]string{"outcome": "inactive_account"})
		return nil, ErrInvalidCredentials
	}

	ok, needsUpgrade, err := p.hasher.Verify(pass, user.PasswordVerifier)
	if err != nil || !ok {
		p.limiter.RecordFailure(ctx, rate.PurposeLogin, client.IP)
		p.metrics.Inc(metrics.LoginFailure)
		p.emit(audit.ActionLogin, &user, client, map[string]string{"outcome": "password_mismatch"})
		return nil, ErrInvalidCredentials
	}

	p.limiter.Clear(ctx, rate.PurposeLogin, client.IP)

	if needsUpgrade {
		// Upgrade is best-effort and must not block a correct login.
		if upgraded, herr := p.hasher.Hash(pass); herr == nil {
			if uerr := p.users.UpdateVerifier(ctx, user.ID, upgraded); uerr != nil {
				p.log.Warn("legacy verifier upgrade failed", "user_id", user.ID, "error", uerr)
			}
		}
	}

	if user.ChallengeEnabled {
		pre, err := p.tokens.Issue(token.KindPreChallenge, user.ID.String(), user.Email, "", "")
		if err != nil {
			return nil, err
		}
		p.emit(audit.ActionLogin, &user, client, map[string]string{"outcome": "challenge_required"})
		return &LoginResult{RequiresChallenge: true, PreChallengeToken: pre}, nil
	}

	setup, err := p.tokens.Issue(token.KindChallengeSetup, user.ID.String(), user.Email, user.Name, user.Role)
	if err != nil {
		return nil, err
	}
	p.emit(audit.ActionLogin, &user, client, map[string]string{"outcome": "challenge_setup_required"})
	return &LoginResult{RequiresChallengeSetup: true, SetupToken: setup}, nil
}

func (p *Pipeline) userFromChallengeToken(ctx context.Context, raw string, kind token.Kind) (model.AdminUser, error) {
	d, err := p.tokens.VerifyKind(raw, kind)
	if err != nil {
		return model.AdminUser{}, ErrChallengeTokenInvalid
	}
	id, err := uuid.Parse(d.UserID)
	if err != nil {
		return model.AdminUser{}, ErrChallengeTokenInvalid
	}
	user, err := p.users.GetByID(ctx, id)
	if err != nil || !user.Active {
		return model.AdminUser{}, ErrChallengeTokenInvalid
	}
	return user, nil
}

// ConfirmChallenge runs the time-based code step against a pre-challenge
// token and issues the full session on a match.
func (p *Pipeline) ConfirmChallenge(ctx context.Context, preToken, code string, client Client) (*SessionResult, error) {
	user, err := p.userFromChallengeToken(ctx, preToken, token.KindPreChallenge)
	if err != nil {
		return nil, err
	}
	if !user.ChallengeEnabled || user.ChallengeSecret == "" {
		return nil, ErrChallengeTokenInvalid
	}

	if res := p.limiter.Check(ctx, rate.PurposeChallenge, user.ID.String()); !res.Allowed {
		p.metrics.Inc(metrics.ChallengeRateLimited)
		p.emit(audit.ActionChallenge, &user, client, map[string]string{"outcome": "rate_limited"})
		return nil, &RateLimitedError{RetryAfter: res.RetryAfter}
	}

	normalized, ok := totp.Normalize(code)
	if !ok || !totp.Verify(user.ChallengeSecret, normalized, p.now().Unix()) {
		p.limiter.RecordFailure(ctx, rate.PurposeChallenge, user.ID.String())
		p.metrics.Inc(metrics.ChallengeFailure)
		p.emit(audit.ActionChallenge, &user, client, map[string]string{"outcome": "code_mismatch"})
		return nil, ErrChallengeCodeInvalid
	}

	p.limiter.Clear(ctx, rate.PurposeChallenge, user.ID.String())
	p.metrics.Inc(metrics.ChallengeSuccess)
	p.emit(audit.ActionChallenge, &user, client, map[string]string{"outcome": "success"})
	return p.issueSession(ctx, user, "")
}

// ConfirmBackupCode is the alternative challenge step consuming a
// single-use backup code.
func (p *Pipeline) ConfirmBackupCode(ctx context.Context, preToken, code string, client Client) (*SessionResult, error) {
	user, err := p.userFromChallengeToken(ctx, preToken, token.KindPreChallenge)
	if err != nil {
		return nil, err
	}

	if res := p.limiter.Check(ctx, rate.PurposeBackup, user.ID.String()); !res.Allowed {
		p.metrics.Inc(metrics.ChallengeRateLimited)
		p.emit(audit.ActionBackupCode, &user, client, map[string]string{"outcome": "rate_limited"})
		return nil, &RateLimitedError{RetryAfter: res.RetryAfter}
	}

	remaining, consumed, err := p.users.ConsumeBackupCode(ctx, user.ID, HashBackupCode(code))
	if err != nil {
		return nil, err
	}
	if !consumed {
		p.limiter.RecordFailure(ctx, rate.PurposeBackup, user.ID.String())
		p.metrics.Inc(metrics.BackupCodeFailed)
		p.emit(audit.ActionBackupCode, &user, client, map[string]string{"outcome": "code_mismatch"})
		return nil, ErrBackupCodeInvalid
	}

	p.limiter.Clear(ctx, rate.PurposeBackup, user.ID.String())
	p.metrics.Inc(metrics.BackupCodeUsed)
	p.emit(audit.ActionBackupCode, &user, client, map[string]string{
		"outcome":   "success",
		"remaining": fmt.Sprintf("%d", remaining),
	})

	warning := fmt.Sprintf("backup code accepted; %d backup codes remaining", remaining)
	return p.issueSession(ctx, user, warning)
}

// SetupInit begins challenge enrollment under a challenge-setup token:
// it stores a fresh secret on the identity (still disabled) and returns
// it with the otpauth URI.
type SetupInit struct {
	Secret       string
	ProvisionURI string
}

// StartChallengeSetup generates and stores the pending challenge secret.
func (p *Pipeline) StartChallengeSetup(ctx context.Context, setupToken string) (*SetupInit, error) {
	user, err := p.userFromChallengeToken(ctx, setupToken, token.KindChallengeSetup)
	if err != nil {
		return nil, err
	}
	if user.ChallengeEnabled {
		return nil, ErrChallengeAlreadyEnabled
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := p.users.SetChallengeSecret(ctx, user.ID, secret); err != nil {
		return nil, err
	}

	return &SetupInit{
		Secret:       secret,
		ProvisionURI: totp.ProvisionURI(p.issuer, user.Email, secret),
	}, nil
}

// VerifyChallengeSetup confirms the first code against the pending secret,
// enables the challenge, replaces the backup-code set, and issues the full
// session. The plaintext codes in the result are shown exactly once.
type SetupVerified struct {
	Session     *SessionResult
	BackupCodes []string
}

// CompleteChallengeSetup finishes enrollment.
func (p *Pipeline) CompleteChallengeSetup(ctx context.Context, setupToken, code string, client Client) (*SetupVerified, error) {
	user, err := p.userFromChallengeToken(ctx, setupToken, token.KindChallengeSetup)
	if err != nil {
		return nil, err
	}
	if user.ChallengeEnabled {
		return nil, ErrChallengeAlreadyEnabled
	}
	if user.ChallengeSecret == "" {
		return nil, ErrChallengeTokenInvalid
	}

	normalized, ok := totp.Normalize(code)
	if !ok || !totp.Verify(user.ChallengeSecret, normalized, p.now().Unix()) {
		p.metrics.Inc(metrics.ChallengeFailure)
		p.emit(audit.ActionChallengeSetup, &user, client, map[string]string{"outcome": "code_mismatch"})
		return nil, ErrChallengeCodeInvalid
	}

	if err := p.users.EnableChallenge(ctx, user.ID); err != nil {
		return nil, err
	}

	codes, err := GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = HashBackupCode(c)
	}
	if err := p.users.ReplaceBackupCodes(ctx, user.ID, hashes); err != nil {
		return nil, err
	}

	p.emit(audit.ActionChallengeSetup, &user, client, map[string]string{"outcome": "enabled"})
	user.ChallengeEnabled = true

	session, err := p.issueSession(ctx, user, "")
	if err != nil {
		return nil, err
	}
	return &SetupVerified{Session: session, BackupCodes: codes}, nil
}

// Refresh exchanges a refresh descriptor for a fresh access descriptor and
// anti-forgery value. The refresh cookie itself is left unchanged.
func (p *Pipeline) Refresh(ctx context.Context, refreshToken string) (*SessionResult, error) {
	d, err := p.tokens.VerifyKind(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, ErrRefreshInvalid
	}
	id, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, ErrRefreshInvalid
	}
	user, err := p.users.GetByID(ctx, id)
	if err != nil || !user.Active {
		return nil, ErrRefreshInvalid
	}

	access, err := p.tokens.Issue(token.KindAccess, user.ID.String(), user.Email, user.Name, user.Role)
	if err != nil {
		return nil, err
	}
	csrf, err := crypto.RandomToken(32)
	if err != nil {
		return nil, err
	}

	p.metrics.Inc(metrics.SessionRefreshed)
	return &SessionResult{User: user, AccessToken: access, CSRFToken: csrf}, nil
}

func (p *Pipeline) issueSession(ctx context.Context, user model.AdminUser, warning string) (*SessionResult, error) {
	access, err := p.tokens.Issue(token.KindAccess, user.ID.String(), user.Email, user.Name, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := p.tokens.Issue(token.KindRefresh, user.ID.String(), user.Email, user.Name, user.Role)
	if err != nil {
		return nil, err
	}
	csrf, err := crypto.RandomToken(32)
	if err != nil {
		return nil, err
	}

	if err := p.users.RecordLogin(ctx, user.ID, p.now().UTC()); err != nil {
		p.log.Warn("last-login update failed", "user_id", user.ID, "error", err)
	}

	p.metrics.Inc(metrics.LoginSuccess)
	return &SessionResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    csrf,
		Warning:      warning,
	}, nil
}

// HashBackupCode canonicalizes and hashes a backup code for storage and
// lookup. Plaintext codes are never persisted.
func HashBackupCode(code string) string {
	canonical := strings.ToUpper(code)
	canonical = strings.ReplaceAll(canonical, "-", "")
	canonical = strings.ReplaceAll(canonical, " ", "")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// GenerateBackupCodes draws n fresh codes in XXXX-XXXX form from the
// unambiguous alphabet.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		a, err := crypto.RandomCode(crypto.CodeAlphabet, 4)
		if err != nil {
			return nil, err
		}
		b, err := crypto.RandomCode(crypto.CodeAlphabet, 4)
		if err != nil {
			return nil, err
		}
		codes[i] = a + "-" + b
	}
	return codes, nil
}
