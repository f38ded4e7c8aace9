package price

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

// Oracle returns the price of one gram in currency. It never fails: missing
// data degrades to a static default.
type Oracle interface {
	CurrentPrice(ctx context.Context, currency string) decimal.Decimal
}

// Store holds the append-only price records.
type Store interface {
	// LatestPrice returns xerrors.ErrNotFound when no record exists.
	LatestPrice(ctx context.Context, currency string) (*models.PriceSnapshot, error)
	RecordPrice(ctx context.Context, p *models.PriceSnapshot) error
}

type StoreOracle struct {
	store        Store
	defaultPrice decimal.Decimal
	logger       *logger.Logger
}

func NewStoreOracle(store Store, defaultPrice decimal.Decimal, l *logger.Logger) *StoreOracle {
	return &StoreOracle{store: store, defaultPrice: defaultPrice, logger: l}
}

func (o *StoreOracle) CurrentPrice(ctx context.Context, currency string) decimal.Decimal {
	snap, err := o.store.LatestPrice(ctx, normalizeCurrency(currency))
	switch {
	case err == nil && snap.Price.IsPositive():
		return snap.Price
	case err == nil:
		o.logger.Warnw("Ignoring non-positive price record", "currency", currency, "price", snap.Price.String())
	case errors.Is(err, xerrors.ErrNotFound):
		o.logger.Debugw("No price recorded, using default", "currency", currency)
	default:
		o.logger.Warnw("Price lookup failed, using default", "currency", currency, "error", err)
	}
	return o.defaultPrice
}

// Record appends a new price snapshot.
func (o *StoreOracle) Record(ctx context.Context, currency string, price decimal.Decimal, source string) (*models.PriceSnapshot, error) {
	if !price.IsPositive() {
		return nil, xerrors.ErrInvalidPrice
	}
	snap := &models.PriceSnapshot{
		Currency:   normalizeCurrency(currency),
		Price:      price,
		Source:     source,
		RecordedAt: time.Now().UTC(),
	}
	if err := o.store.RecordPrice(ctx, snap); err != nil {
		return nil, xerrors.Persistence(fmt.Errorf("record price: %w", err))
	}
	return snap, nil
}

// Static always answers the same price. Used when no store is configured.
type Static decimal.Decimal

func (s Static) CurrentPrice(context.Context, string) decimal.Decimal {
	return decimal.Decimal(s)
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
