package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
)

// CommitPurchase consumes the session and records the transaction and its
// analytics event in one database transaction. The conditional update is the
// only place a session moves from active to consumed.
func (db *PostgresDB) CommitPurchase(ctx context.Context, token string, t *models.Transaction, ev *models.AnalyticsEvent) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	consume := `
        UPDATE sessions
        SET is_active = FALSE, consumed_at = NOW(), user_id = COALESCE(user_id, $2)
        WHERE token = $1 AND is_active AND expires_at > NOW()
        RETURNING id::text
    `
	if err := tx.QueryRow(ctx, consume, token, t.UserID).Scan(&t.SessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return xerrors.ErrSessionAlreadyConsumed
		}
		if xerrors.IsForeignKeyViolation(err) {
			return xerrors.ErrUserNotFound.Wrap(err)
		}
		return fmt.Errorf("failed to consume session: %w", err)
	}

	insertTx := `
        INSERT INTO transactions
            (reference, user_id, session_id, quantity, unit_price, total, currency, status, payment_method)
        VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9)
        RETURNING id, created_at, updated_at
    `
	err = tx.QueryRow(ctx, insertTx,
		t.Reference, t.UserID, t.SessionID,
		t.Quantity.String(), t.UnitPrice.String(), t.Total.String(),
		t.Currency, string(t.Status), t.PaymentMethod,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	switch {
	case xerrors.IsUniqueViolation(err):
		return xerrors.ErrSessionAlreadyConsumed.Wrap(err)
	case xerrors.IsForeignKeyViolation(err):
		return xerrors.ErrUserNotFound.Wrap(err)
	case err != nil:
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	insertEvent := `
        INSERT INTO analytics_events (event_type, user_id, metadata)
        VALUES ($1, $2, $3::jsonb)
        RETURNING id, created_at
    `
	if err := tx.QueryRow(ctx, insertEvent, ev.EventType, ev.UserID, string(metadata)).Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit purchase: %w", err)
	}
	return nil
}

func (db *PostgresDB) TransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	query := `
        SELECT id, reference, user_id, session_id::text,
               quantity::text, unit_price::text, total::text,
               currency, status, payment_method, created_at, updated_at
        FROM transactions
        WHERE reference = $1
    `

	var (
		t                          models.Transaction
		quantity, unitPrice, total string
		status                     string
	)
	err := db.pool.QueryRow(ctx, query, reference).Scan(
		&t.ID, &t.Reference, &t.UserID, &t.SessionID,
		&quantity, &unitPrice, &total,
		&t.Currency, &status, &t.PaymentMethod, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	t.Status = models.TransactionStatus(status)
	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("bad quantity %q: %w", quantity, err)
	}
	if t.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("bad unit price %q: %w", unitPrice, err)
	}
	if t.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("bad total %q: %w", total, err)
	}
	return &t, nil
}
