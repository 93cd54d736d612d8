// Package audit records privileged actions. Writes are fire-and-forget:
// the acting request never waits on, and never fails because of, the audit
// path.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action tags identify what happened. The set is closed; handlers declare
// their tag at route registration.
const (
	ActionLogin           = "auth.login"
	ActionChallenge       = "auth.challenge"
	ActionBackupCode      = "auth.backup_code"
	ActionChallengeSetup  = "auth.challenge_setup"
	ActionRefresh         = "auth.refresh"
	ActionLogout          = "auth.logout"
	ActionUserCreate      = "user.create"
	ActionUserUpdate      = "user.update"
	ActionUserDeactivate  = "user.deactivate"
	ActionUserBackupReset = "user.backup_codes_reset"
	ActionSettingsUpdate  = "settings.update"
	ActionSettingsReset   = "settings.reset"
	ActionOrderStatus     = "order.status_update"
	ActionGiftCardCreate  = "giftcard.create"
	ActionGiftCardAdjust  = "giftcard.adjust"
	ActionGiftCardCancel  = "giftcard.cancel"
	ActionProductWrite    = "product.write"
	ActionMediaWrite      = "media.write"
	ActionDiscountWrite   = "discount.write"
)

// Event is one immutable audit record. Detail is whitelist-selected by the
// emitting handler; nothing secret belongs in it.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id,omitempty"`
	ActorEmail string            `json:"actor_email,omitempty"`
	TargetType string            `json:"target_type,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Filter narrows a query. Zero fields are ignored.
type Filter struct {
	ActorEmail string
	Action     string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Store is the query side, gated by VIEW_AUDIT_LOGS.
type Store interface {
	Sink
	Query(ctx context.Context, filter Filter) ([]Event, error)
}
