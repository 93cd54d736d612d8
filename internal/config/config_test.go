package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewDefaults(t *testing.T) {
	t.Setenv("AUTH_SIGNING_SECRET", testSecret)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":8443", cfg.HTTPAddr)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "fernshop-admin", cfg.Auth.Issuer)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.PreChallengeTTL)
	assert.Equal(t, []string{"https://admin.fernshop.co.uk"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 256, cfg.Audit.BufferSize)
	require.Contains(t, cfg.Database.DSN, "postgres://")
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("AUTH_SIGNING_SECRET", testSecret)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("AUTH_ACCESS_TTL", "5m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("PII_KEY", strings.Repeat("ab", 32))
	t.Setenv("WEBHOOK_STRIPE_SECRET", "whsec_test")
	t.Setenv("AUDIT_BUFFER_SIZE", "32")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, strings.Repeat("ab", 32), cfg.PII.KeyHex)
	assert.Equal(t, "whsec_test", cfg.Webhooks.StripeSecret)
	assert.Equal(t, 32, cfg.Audit.BufferSize)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Auth: Auth{
				SigningSecret:   testSecret,
				AccessTTL:       15 * time.Minute,
				RefreshTTL:      168 * time.Hour,
				PreChallengeTTL: 5 * time.Minute,
				SetupTTL:        10 * time.Minute,
			},
			CORS: CORS{AllowedOrigins: []string{"https://admin.fernshop.co.uk"}},
		}
	}

	require.NoError(t, base().Validate())

	short := base()
	short.Auth.SigningSecret = "too short"
	assert.Error(t, short.Validate())

	noOrigins := base()
	noOrigins.CORS.AllowedOrigins = nil
	assert.Error(t, noOrigins.Validate())

	zeroTTL := base()
	zeroTTL.Auth.AccessTTL = 0
	assert.Error(t, zeroTTL.Validate())
}

func TestNewRejectsMissingSecret(t *testing.T) {
	t.Setenv("AUTH_SIGNING_SECRET", "")

	_, err := New()
	require.Error(t, err)
}
