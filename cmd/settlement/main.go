// cmd/settlement/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gold-bot/config"
	"gold-bot/internal/app"
	"gold-bot/internal/metrics"
	"gold-bot/internal/purchase"
	"gold-bot/internal/server"
	"gold-bot/internal/session"
	"gold-bot/internal/user"
	"gold-bot/pkg/logger"
)

func main() {
	l := logger.New().Named("settlement")
	l.Infow("Starting settlement service...")

	cfg, err := config.Load()
	if err != nil {
		l.Fatalw("Failed to load config", "error", err)
	}
	if cfg.Server.AdminKey == "" {
		l.Warnw("Admin key is not configured, price recording is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.OpenBackend(ctx, cfg, "settlement", l)
	if err != nil {
		l.Fatalw("Failed to open storage", "error", err)
	}
	defer backend.Close()

	redisCache := app.Cache(ctx, cfg.Redis, l)
	if redisCache != nil {
		defer redisCache.Close()
	}

	keys, err := app.Keyring(cfg.Session)
	if err != nil {
		l.Fatalw("Failed to build session keyring", "error", err)
	}

	oracle, err := app.PriceOracle(backend, redisCache, cfg, l)
	if err != nil {
		l.Fatalw("Failed to build price oracle", "error", err)
	}

	m := metrics.New("settlement")
	verifier := session.NewVerifier(keys, backend)
	processor := purchase.NewProcessor(backend, verifier, oracle, cfg.Price.Currency, l.Named("purchase"))

	deps := server.SettlementDeps{
		Verifier:   verifier,
		Users:      user.NewRegistry(backend),
		Processor:  processor,
		Prices:     oracle,
		Metrics:    m,
		Logger:     l,
		Health:     backend.Ping,
		TrustProxy: cfg.Server.TrustProxy,
		AdminKey:   cfg.Server.AdminKey,
	}
	if redisCache != nil {
		deps.RateLimit = server.RateLimit{Counter: redisCache, Limit: cfg.Redis.RateLimit, Window: cfg.Redis.RateWindow}
	}

	go sweep(ctx, verifier, m, cfg.Session.SweepInterval, l)

	httpServer := server.NewServer(cfg.Server.SettlementPort, server.NewSettlementRouter(deps), l)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	<-ctx.Done()
	l.Infow("Shutting down settlement service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	l.Infow("Settlement service stopped")
	_ = l.Sync()
}

// sweep deactivates expired sessions until ctx is done.
func sweep(ctx context.Context, verifier *session.Verifier, m *metrics.Metrics, every time.Duration, l *logger.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := verifier.Sweep(ctx)
			if err != nil {
				l.Errorw("Session sweep failed", "error", err)
				continue
			}
			m.SessionsSwept(n)
			if n > 0 {
				l.Infow("Expired sessions swept", "count", n)
			}
		}
	}
}
