package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGSERIAL PRIMARY KEY,
		email      TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		phone      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (LOWER(email))`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id               UUID PRIMARY KEY,
		token            TEXT NOT NULL UNIQUE,
		user_id          BIGINT REFERENCES users (id),
		intent_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		message          TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at       TIMESTAMPTZ NOT NULL,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		consumed_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_active_expiry_idx ON sessions (expires_at) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id             BIGSERIAL PRIMARY KEY,
		reference      TEXT NOT NULL UNIQUE,
		user_id        BIGINT NOT NULL REFERENCES users (id),
		session_id     UUID NOT NULL UNIQUE REFERENCES sessions (id),
		quantity       NUMERIC NOT NULL CHECK (quantity > 0),
		unit_price     NUMERIC NOT NULL CHECK (unit_price > 0),
		total          NUMERIC NOT NULL,
		currency       TEXT NOT NULL,
		status         TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed', 'cancelled')),
		payment_method TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_user_idx ON transactions (user_id)`,

	`CREATE TABLE IF NOT EXISTS analytics_events (
		id         BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		user_id    BIGINT REFERENCES users (id),
		metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS price_records (
		id          BIGSERIAL PRIMARY KEY,
		currency    TEXT NOT NULL,
		price       NUMERIC NOT NULL CHECK (price > 0),
		source      TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS price_records_latest_idx ON price_records (currency, recorded_at DESC)`,
}

// Migrate creates the tables if they do not exist yet.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
