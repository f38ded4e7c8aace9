// cmd/advisory/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"gold-bot/config"
	"gold-bot/internal/advisory"
	"gold-bot/internal/app"
	"gold-bot/internal/bot"
	"gold-bot/internal/gpt"
	"gold-bot/internal/metrics"
	"gold-bot/internal/server"
	"gold-bot/internal/session"
	"gold-bot/pkg/logger"
)

func main() {
	l := logger.New().Named("advisory")
	l.Infow("Starting advisory service...")

	cfg, err := config.Load()
	if err != nil {
		l.Fatalw("Failed to load config", "error", err)
	}
	if cfg.GPT.APIKey == "" {
		l.Warnw("GPT API key is not configured, classification uses keywords only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.OpenBackend(ctx, cfg, "advisory", l)
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

	classifier := gpt.NewClientWithBaseURL(cfg.GPT.APIKey, cfg.GPT.BaseURL, l.Named("gpt")).WithModel(cfg.GPT.Model)

	m := metrics.New("advisory")
	adv := advisory.NewAdvisor(
		classifier,
		session.NewIssuer(keys, backend, session.WithTTL(cfg.Session.TTL)),
		oracle,
		advisory.Config{
			Threshold:   cfg.GPT.ConfidenceThreshold,
			PurchaseURL: cfg.Server.PurchaseURL,
			Currency:    cfg.Price.Currency,
		},
		m,
		l.Named("advisor"),
	)

	var telegramBot *bot.TelegramBot
	if cfg.Telegram.Token != "" {
		telegramBot, err = bot.NewTelegramBot(cfg.Telegram.Token, adv, l.Named("telegram"))
		if err != nil {
			l.Fatalw("Failed to create Telegram bot", "error", err)
		}
		if err := telegramBot.Start(ctx); err != nil {
			l.Fatalw("Failed to start Telegram bot", "error", err)
		}
		l.Infow("Telegram bot started successfully")
	} else {
		l.Warnw("Telegram token is not configured, serving HTTP only")
	}

	deps := server.AdvisoryDeps{
		Advisor:    adv,
		Metrics:    m,
		Logger:     l,
		Health:     backend.Ping,
		TrustProxy: cfg.Server.TrustProxy,
	}
	if redisCache != nil {
		deps.RateLimit = server.RateLimit{Counter: redisCache, Limit: cfg.Redis.RateLimit, Window: cfg.Redis.RateWindow}
	}

	httpServer := server.NewServer(cfg.Server.AdvisoryPort, server.NewAdvisoryRouter(deps), l)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	<-ctx.Done()
	l.Infow("Shutting down advisory service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop HTTP server first
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}
	if telegramBot != nil {
		if err := telegramBot.Stop(shutdownCtx); err != nil {
			l.Errorw("Error during bot shutdown", "error", err)
		}
	}

	l.Infow("Advisory service stopped")
	_ = l.Sync()
}
