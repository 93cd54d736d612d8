// Command server runs the admin access-control plane: the session
// pipeline, the privileged request gate, and the sensitive-data surfaces
// behind it.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fernshop/admingate/internal/api"
	"github.com/fernshop/admingate/internal/audit"
	"github.com/fernshop/admingate/internal/config"
	"github.com/fernshop/admingate/internal/cookies"
	"github.com/fernshop/admingate/internal/crypto"
	"github.com/fernshop/admingate/internal/giftcard"
	"github.com/fernshop/admingate/internal/logger"
	"github.com/fernshop/admingate/internal/metrics"
	"github.com/fernshop/admingate/internal/password"
	"github.com/fernshop/admingate/internal/pii"
	"github.com/fernshop/admingate/internal/rate"
	"github.com/fernshop/admingate/internal/repository/postgres"
	"github.com/fernshop/admingate/internal/session"
	"github.com/fernshop/admingate/internal/staff"
	"github.com/fernshop/admingate/internal/token"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		logger.New(0).Fatal("failed to load config", "error", err)
	}
	log := logger.New(cfg.LogLevel)

	// NewConnection runs pending migrations before handing out the pool.
	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	m := metrics.New()

	tokens, err := token.NewService(token.Config{
		Secret:          []byte(cfg.Auth.SigningSecret),
		Issuer:          cfg.Auth.Issuer,
		AccessTTL:       cfg.Auth.AccessTTL,
		RefreshTTL:      cfg.Auth.RefreshTTL,
		PreChallengeTTL: cfg.Auth.PreChallengeTTL,
		SetupTTL:        cfg.Auth.SetupTTL,
	})
	if err != nil {
		log.Fatal("failed to build token service", "error", err)
	}

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		log.Fatal("failed to build password hasher", "error", err)
	}

	piiKey, err := hex.DecodeString(cfg.PII.KeyHex)
	if err != nil {
		log.Warn("pii key is not valid hex, field encryption disabled")
		piiKey = nil
	}
	envelope := pii.New(crypto.NewCipher(piiKey, log))

	adminRepo := postgres.NewAdminRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	cardRepo := postgres.NewGiftCardRepository(db)
	orderRepo := postgres.NewOrderRepository(db, envelope)
	settingsRepo := postgres.NewSettingsRepository(db)

	auditor := audit.NewDispatcher(auditRepo, cfg.Audit.BufferSize, log, m)
	defer auditor.Close()

	limiter := rate.New(rdb, rate.DefaultPolicies(), log, m)
	pipeline := session.New(adminRepo, hasher, tokens, limiter, auditor, log, m, cfg.Auth.Issuer)
	cards := giftcard.New(cardRepo, log, m)
	staffSvc := staff.New(adminRepo, hasher)

	binder := cookies.NewBinder(!cfg.DevMode, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	gate := api.NewGate(tokens, auditor, m, log, cfg.CORS.AllowedOrigins, len(cfg.Auth.SigningSecret) >= 32)

	handler := api.NewRouter(gate, &api.Handlers{
		Auth:      api.NewAuthHandler(pipeline, tokens, binder, auditor, m),
		Staff:     api.NewStaffHandler(staffSvc),
		Settings:  api.NewSettingsHandler(settingsRepo),
		Audit:     api.NewAuditHandler(auditRepo),
		GiftCards: api.NewGiftCardHandler(cards),
		Orders:    api.NewOrderHandler(orderRepo),
		Webhooks:  api.NewWebhookHandler(map[string]string{"stripe": cfg.Webhooks.StripeSecret}, log, m),
		Metrics:   api.NewMetricsHandler(m),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown incomplete", "error", err)
		}
	}
}
