// Package rate enforces the per-identity / per-address attempt budgets for
// the authentication endpoints, backed by Redis counters.
//
// The discipline is first-failure-time plus window: the first recorded
// failure starts the window (key TTL), later failures within it increment
// the counter, and the key expiring is the reset. A success deletes the
// key outright.
//
// Storage failures never decide an outcome on their own. The limiter fails
// open, logs, and increments a counter metric so operators notice when it
// is silently permissive.
package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fernshop/admingate/internal/logger"
	"github.com/fernshop/admingate/internal/metrics"
)

// Purpose namespaces limiter keys so the password, challenge, and
// backup-code budgets are independent.
type Purpose string

const (
	PurposeLogin     Purpose = "login"
	PurposeChallenge Purpose = "challenge"
	PurposeBackup    Purpose = "backup"
)

// Policy is the attempt budget for one purpose.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultPolicies returns the production budgets.
func DefaultPolicies() map[Purpose]Policy {
	return map[Purpose]Policy{
		PurposeLogin:     {MaxAttempts: 5, Window: 15 * time.Minute},
		PurposeChallenge: {MaxAttempts: 5, Window: 15 * time.Minute},
		PurposeBackup:    {MaxAttempts: 5, Window: 15 * time.Minute},
	}
}

// Result is the outcome of a Check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter is the sliding-window counter keyed by (purpose, subject hash).
type Limiter struct {
	rdb      redis.UniversalClient
	policies map[Purpose]Policy
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New creates a Limiter backed by the given Redis client.
func New(rdb redis.UniversalClient, policies map[Purpose]Policy, log *logger.Logger, m *metrics.Metrics) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{rdb: rdb, policies: policies, log: log, metrics: m}
}

// Subjects are hashed so raw emails and client addresses never appear in
// limiter storage.
func (l *Limiter) key(purpose Purpose, subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return "rl:" + string(purpose) + ":" + hex.EncodeToString(sum[:16])
}

func (l *Limiter) failOpen(op string, err error) {
	l.metrics.Inc(metrics.RateLimitFailOpen)
	if l.log != nil {
		l.log.Error("rate limiter storage failure, proceeding open", "op", op, "error", err)
	}
}

// Check reports whether the subject is within its budget for the purpose.
// It never increments; denial returns the time left in the window.
func (l *Limiter) Check(ctx context.Context, purpose Purpose, subject string) Result {
	policy, ok := l.policies[purpose]
	if !ok {
		return Result{Allowed: true}
	}
	key := l.key(purpose, subject)

	count, err := l.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{Allowed: true}
		}
		l.failOpen("check", err)
		return Result{Allowed: true}
	}
	if count < int64(policy.MaxAttempts) {
		return Result{Allowed: true}
	}

	retry := policy.Window
	if ttl, err := l.rdb.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
		retry = ttl
	}
	return Result{Allowed: false, RetryAfter: retry}
}

// recordFailureScript increments the counter and starts the window TTL in
// one round trip. A counter without a TTL would never reset, so the two
// operations must not be separable.
var recordFailureScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RecordFailure counts one failed attempt. The first failure in a window
// sets the window TTL; the key expiring is the reset to a fresh record.
func (l *Limiter) RecordFailure(ctx context.Context, purpose Purpose, subject string) {
	policy, ok := l.policies[purpose]
	if !ok {
		return
	}
	key := l.key(purpose, subject)

	err := recordFailureScript.Run(ctx, l.rdb, []string{key}, policy.Window.Milliseconds()).Err()
	if err != nil {
		l.failOpen("record_failure", err)
	}
}

// Clear deletes the record after a success.
func (l *Limiter) Clear(ctx context.Context, purpose Purpose, subject string) {
	if err := l.rdb.Del(ctx, l.key(purpose, subject)).Err(); err != nil {
		l.failOpen("clear", err)
	}
}
