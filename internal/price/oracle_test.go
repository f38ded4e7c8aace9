package price_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-bot/internal/models"
	"gold-bot/internal/price"
	"gold-bot/internal/storage/memory"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

var defaultPrice = decimal.RequireFromString("6500.00")

func assertPrice(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "price = %s, want %s", got, want)
}

func TestCurrentPrice_FallsBackToDefault(t *testing.T) {
	oracle := price.NewStoreOracle(memory.New(), defaultPrice, logger.NewNop())

	assertPrice(t, "6500", oracle.CurrentPrice(context.Background(), "RUB"))
}

func TestCurrentPrice_StoreErrorDegradesToDefault(t *testing.T) {
	store := memory.New()
	store.FailOn(memory.StageLatestPrice, errors.New("timeout"))
	oracle := price.NewStoreOracle(store, defaultPrice, logger.NewNop())

	assertPrice(t, "6500", oracle.CurrentPrice(context.Background(), "RUB"))
}

func TestCurrentPrice_ReturnsLatestRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	oracle := price.NewStoreOracle(store, defaultPrice, logger.NewNop())

	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	for i, p := range []string{"6400.00", "6550.25", "6480.10"} {
		require.NoError(t, store.RecordPrice(ctx, &models.PriceSnapshot{
			Currency:   "RUB",
			Price:      decimal.RequireFromString(p),
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	assertPrice(t, "6480.10", oracle.CurrentPrice(ctx, "rub"))
}

func TestRecord_RejectsNonPositive(t *testing.T) {
	oracle := price.NewStoreOracle(memory.New(), defaultPrice, logger.NewNop())

	_, err := oracle.Record(context.Background(), "RUB", decimal.Zero, "admin")
	assert.ErrorIs(t, err, xerrors.ErrInvalidPrice)
}

type fakeCache struct {
	data   map[string]string
	getErr error
	sets   int
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]string{}} }

func (f *fakeCache) Get(_ context.Context, ns, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.data[ns+":"+key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, ns, key string, value any, _ time.Duration) error {
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.data[ns+":"+key] = string(v)
	case string:
		f.data[ns+":"+key] = v
	}
	return nil
}

func (f *fakeCache) Delete(_ context.Context, ns, key string) error {
	delete(f.data, ns+":"+key)
	return nil
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	cache := newFakeCache()
	store := price.NewCachedStore(backing, cache, time.Minute, logger.NewNop())

	require.NoError(t, store.RecordPrice(ctx, &models.PriceSnapshot{Currency: "RUB", Price: decimal.RequireFromString("6600")}))

	first, err := store.LatestPrice(ctx, "RUB")
	require.NoError(t, err)
	require.Equal(t, 1, cache.sets, "the miss should populate the cache")

	// Served from cache even if the backing store now fails.
	backing.FailOn(memory.StageLatestPrice, errors.New("down"))
	second, err := store.LatestPrice(ctx, "RUB")
	require.NoError(t, err)
	assertPrice(t, first.Price.String(), second.Price)
	backing.ClearFaults()

	require.NoError(t, store.RecordPrice(ctx, &models.PriceSnapshot{Currency: "RUB", Price: decimal.RequireFromString("6700")}))
	third, err := store.LatestPrice(ctx, "RUB")
	require.NoError(t, err)
	assertPrice(t, "6700", third.Price)
}

func TestCachedStore_CacheOutageBypassed(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	cache := newFakeCache()
	cache.getErr = errors.New("redis: connection refused")
	store := price.NewCachedStore(backing, cache, time.Minute, logger.NewNop())

	require.NoError(t, backing.RecordPrice(ctx, &models.PriceSnapshot{Currency: "RUB", Price: decimal.RequireFromString("6500")}))

	snap, err := store.LatestPrice(ctx, "RUB")
	require.NoError(t, err)
	assertPrice(t, "6500", snap.Price)
}
