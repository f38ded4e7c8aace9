package price

import (
	"context"
	"encoding/json"
	"time"

	"gold-bot/internal/models"
	"gold-bot/pkg/logger"
)

// Cache is the subset of the Redis cache used for price snapshots.
type Cache interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
}

const cacheNamespace = "price"

// CachedStore is a read-through cache in front of the price records. Cache
// failures are logged and bypassed; they never fail a lookup.
type CachedStore struct {
	next   Store
	cache  Cache
	ttl    time.Duration
	logger *logger.Logger
}

func NewCachedStore(next Store, cache Cache, ttl time.Duration, l *logger.Logger) *CachedStore {
	return &CachedStore{next: next, cache: cache, ttl: ttl, logger: l}
}

func (c *CachedStore) LatestPrice(ctx context.Context, currency string) (*models.PriceSnapshot, error) {
	if raw, err := c.cache.Get(ctx, cacheNamespace, currency); err == nil {
		var snap models.PriceSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			return &snap, nil
		}
		c.logger.Warnw("Dropping unreadable cached price", "currency", currency)
	}

	snap, err := c.next.LatestPrice(ctx, currency)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := c.cache.Set(ctx, cacheNamespace, currency, data, c.ttl); err != nil {
			c.logger.Warnw("Failed to cache price", "currency", currency, "error", err)
		}
	}
	return snap, nil
}

func (c *CachedStore) RecordPrice(ctx context.Context, p *models.PriceSnapshot) error {
	if err := c.next.RecordPrice(ctx, p); err != nil {
		return err
	}
	if err := c.cache.Delete(ctx, cacheNamespace, p.Currency); err != nil {
		c.logger.Warnw("Failed to invalidate cached price", "currency", p.Currency, "error", err)
	}
	return nil
}
