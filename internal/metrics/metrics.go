// Package metrics owns in-process counter storage and snapshot creation.
// It must not import any sibling package.
package metrics

import "sync/atomic"

// ID identifies a specific counter.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginRateLimited
	ChallengeSuccess
	ChallengeFailure
	ChallengeRateLimited
	BackupCodeUsed
	BackupCodeFailed
	SessionRefreshed
	Logout
	CSRFRejected
	PermissionDenied
	// RateLimitFailOpen counts limiter storage failures that were allowed
	// through. A non-zero value means the limiter is silently permissive.
	RateLimitFailOpen
	AuditDropped
	AuditWriteFailure
	GiftCardIssued
	GiftCardRedeemed
	GiftCardDepleted
	GiftCardExpired
	GiftCardCancelled
	WebhookRejected

	idCount
)

var names = map[ID]string{
	LoginSuccess:         "login_success",
	LoginFailure:         "login_failure",
	LoginRateLimited:     "login_rate_limited",
	ChallengeSuccess:     "challenge_success",
	ChallengeFailure:     "challenge_failure",
	ChallengeRateLimited: "challenge_rate_limited",
	BackupCodeUsed:       "backup_code_used",
	BackupCodeFailed:     "backup_code_failed",
	SessionRefreshed:     "session_refreshed",
	Logout:               "logout",
	CSRFRejected:         "csrf_rejected",
	PermissionDenied:     "permission_denied",
	RateLimitFailOpen:    "rate_limit_fail_open",
	AuditDropped:         "audit_dropped",
	AuditWriteFailure:    "audit_write_failure",
	GiftCardIssued:       "gift_card_issued",
	GiftCardRedeemed:     "gift_card_redeemed",
	GiftCardDepleted:     "gift_card_depleted",
	GiftCardExpired:      "gift_card_expired",
	GiftCardCancelled:    "gift_card_cancelled",
	WebhookRejected:      "webhook_rejected",
}

// Metrics holds atomic counters. The zero value is not usable; call New.
type Metrics struct {
	counters [idCount]atomic.Uint64
}

// New creates a Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// Inc increments a counter. Safe on a nil receiver so components can treat
// metrics as optional.
func (m *Metrics) Inc(id ID) {
	if m == nil || id >= idCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns the current value of a counter.
func (m *Metrics) Get(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot returns a point-in-time copy of all counters keyed by name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, int(idCount))
	if m == nil {
		return out
	}
	for id, name := range names {
		out[name] = m.counters[id].Load()
	}
	return out
}
