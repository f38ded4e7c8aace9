package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
)

func (db *PostgresDB) LatestPrice(ctx context.Context, currency string) (*models.PriceSnapshot, error) {
	query := `
        SELECT currency, price::text, source, recorded_at
        FROM price_records
        WHERE currency = $1
        ORDER BY recorded_at DESC, id DESC
        LIMIT 1
    `

	var (
		p     models.PriceSnapshot
		price string
	)
	err := db.pool.QueryRow(ctx, query, currency).Scan(&p.Currency, &price, &p.Source, &p.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("bad price %q: %w", price, err)
	}
	return &p, nil
}

func (db *PostgresDB) RecordPrice(ctx context.Context, p *models.PriceSnapshot) error {
	query := `
        INSERT INTO price_records (currency, price, source, recorded_at)
        VALUES ($1, $2::numeric, $3, COALESCE($4, NOW()))
        RETURNING recorded_at
    `

	var recordedAt any
	if !p.RecordedAt.IsZero() {
		recordedAt = p.RecordedAt
	}
	if err := db.pool.QueryRow(ctx, query, p.Currency, p.Price.String(), p.Source, recordedAt).Scan(&p.RecordedAt); err != nil {
		return fmt.Errorf("failed to record price: %w", err)
	}
	return nil
}
