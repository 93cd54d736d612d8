package model

import (
	"time"

	"github.com/google/uuid"
)

// AdminUser is a staff identity. Emails are stored lower-cased and are
// unique under case-fold. The password verifier is opaque: either a legacy
// hex digest (prefix "sha256:") or a PHC argon2id string. Accounts are
// soft-deleted by clearing Active; rows are never removed.
type AdminUser struct {
	ID               uuid.UUID
	Email            string
	Name             string
	PasswordVerifier string
	Role             string
	Active           bool
	ChallengeSecret  string // base32 TOTP secret, empty when unset
	ChallengeEnabled bool
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
