// Package app assembles the shared infrastructure of both services from config.
package app

import (
	"context"
	"fmt"
	"time"

	"gold-bot/config"
	"gold-bot/internal/cache"
	"gold-bot/internal/db"
	"gold-bot/internal/price"
	"gold-bot/internal/purchase"
	"gold-bot/internal/session"
	"gold-bot/internal/storage/memory"
	"gold-bot/internal/user"
	"gold-bot/pkg/logger"
)

// Backend is everything the services persist.
type Backend interface {
	session.Store
	user.Store
	purchase.Store
	price.Store
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Backend = (*db.PostgresDB)(nil)
	_ Backend = (*memory.Store)(nil)
)

const dbConnectAttempts = 5

// OpenBackend connects the configured storage driver. Postgres is retried with
// a linear backoff and migrated on success.
func OpenBackend(ctx context.Context, cfg *config.Config, service string, l *logger.Logger) (Backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		l.Warnw("Using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case "postgres":
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	var (
		database *db.PostgresDB
		err      error
	)
	for i := 0; i < dbConnectAttempts; i++ {
		database, err = db.NewPostgresDB(ctx, cfg.DB, "gold-bot-"+service)
		if err == nil {
			break
		}
		l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	if database == nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", dbConnectAttempts, err)
	}

	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Keyring builds the signing keys shared by issuer and verifier.
func Keyring(cfg config.SessionConfig) (*session.Keyring, error) {
	keys, err := session.NewKeyring(cfg.KeyID, []byte(cfg.Secret), cfg.Issuer)
	if err != nil {
		return nil, err
	}
	for id, secret := range cfg.RetiredSecrets {
		keys.AddVerificationKey(id, []byte(secret))
	}
	return keys, nil
}

// Cache connects to Redis when an address is configured. A nil cache means
// caching and rate limiting are off.
func Cache(ctx context.Context, cfg config.RedisConfig, l *logger.Logger) *cache.Cache {
	if cfg.Addr == "" {
		return nil
	}
	c := cache.New(cfg.Addr, cfg.Password)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		// Keep the client: go-redis reconnects and every caller fails open.
		l.Warnw("Redis is not reachable yet", "addr", cfg.Addr, "error", err)
	}
	return c
}

// PriceOracle puts the Redis read-through cache in front of the price records when available.
func PriceOracle(backend price.Store, c *cache.Cache, cfg *config.Config, l *logger.Logger) (*price.StoreOracle, error) {
	defaultPrice, err := cfg.DefaultPrice()
	if err != nil {
		return nil, err
	}
	var store price.Store = backend
	if c != nil {
		store = price.NewCachedStore(backend, c, cfg.Redis.PriceCacheTTL, l.Named("price-cache"))
	}
	return price.NewStoreOracle(store, defaultPrice, l.Named("price")), nil
}
