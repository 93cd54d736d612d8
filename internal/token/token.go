// Package token issues and verifies the signed session descriptors carried
// by cookies and Bearer headers.
package token

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the four descriptor flavors. Only KindAccess is ever
// admitted by the privileged request gate.
type Kind string

const (
	// KindPreChallenge carries identity across the challenge step only.
	KindPreChallenge Kind = "pre_challenge"
	// KindChallengeSetup grants the challenge-enrollment endpoints only.
	KindChallengeSetup Kind = "challenge_setup"
	// KindAccess grants privileged endpoints.
	KindAccess Kind = "access"
	// KindRefresh is exchanged for a new access descriptor.
	KindRefresh Kind = "refresh"
)

var (
	ErrNoToken      = errors.New("no token")
	ErrBadToken     = errors.New("bad token")
	ErrExpiredToken = errors.New("expired token")
	ErrWrongKind    = errors.New("wrong token kind")
)

// Descriptor is the in-flight representation of a session. It is never
// persisted; everything the gate needs is inside the signed token.
type Descriptor struct {
	UserID    string
	Email     string
	Name      string
	Role      string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config holds the signing secret and per-kind lifetimes.
type Config struct {
	Secret          []byte
	Issuer          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	PreChallengeTTL time.Duration
	SetupTTL        time.Duration
}

// Service signs and verifies descriptors with a fixed HS256 secret.
type Service struct {
	config Config
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.PreChallengeTTL <= 0 || cfg.SetupTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Service{config: cfg}, nil
}

type claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Kind  Kind   `json:"kind"`
	jwt.RegisteredClaims
}

func (s *Service) ttl(kind Kind) time.Duration {
	switch kind {
	case KindPreChallenge:
		return s.config.PreChallengeTTL
	case KindChallengeSetup:
		return s.config.SetupTTL
	case KindRefresh:
		return s.config.RefreshTTL
	default:
		return s.config.AccessTTL
	}
}

// Issue signs a descriptor of the given kind. Pre-challenge descriptors
// carry no role; the role is only attached once the password check has a
// terminal successor.
func (s *Service) Issue(kind Kind, userID, email, name, role string) (string, error) {
	now := time.Now()
	c := claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl(kind))),
		},
	}
	if kind != KindPreChallenge {
		c.Name = name
		c.Role = role
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.config.Secret)
}

// Verify parses and validates a raw token of any kind.
func (s *Service) Verify(raw string) (*Descriptor, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadToken
		}
		return s.config.Secret, nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrBadToken
	}
	if !parsed.Valid {
		return nil, ErrBadToken
	}

	switch c.Kind {
	case KindPreChallenge, KindChallengeSetup, KindAccess, KindRefresh:
	default:
		return nil, ErrBadToken
	}

	d := &Descriptor{
		UserID: c.Subject,
		Email:  c.Email,
		Name:   c.Name,
		Role:   c.Role,
		Kind:   c.Kind,
	}
	if c.IssuedAt != nil {
		d.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		d.ExpiresAt = c.ExpiresAt.Time
	}
	return d, nil
}

// VerifyKind verifies a raw token and additionally rejects descriptors of
// a different kind with ErrWrongKind.
func (s *Service) VerifyKind(raw string, kind Kind) (*Descriptor, error) {
	d, err := s.Verify(raw)
	if err != nil {
		return nil, err
	}
	if d.Kind != kind {
		return nil, ErrWrongKind
	}
	return d, nil
}

// FromRequest extracts the raw access credential from either the Bearer
// header (the prior client path, still accepted) or the access cookie.
func FromRequest(r *http.Request, accessCookieName string) (string, bool) {
	const bearer = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearer) && len(h) > len(bearer) {
		return h[len(bearer):], true
	}
	if c, err := r.Cookie(accessCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}
