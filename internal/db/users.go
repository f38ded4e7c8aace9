package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
)

const userColumns = `id, email, name, phone, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (db *PostgresDB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(db.pool.QueryRow(ctx, query, email))
}

func (db *PostgresDB) UserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) InsertUser(ctx context.Context, u *models.User) error {
	query := `
        INSERT INTO users (email, name, phone)
        VALUES (LOWER($1), $2, $3)
        RETURNING id, created_at, updated_at
    `

	err := db.pool.QueryRow(ctx, query, u.Email, u.Name, u.Phone).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if xerrors.IsUniqueViolation(err) {
		return xerrors.ErrDuplicateKey.Wrap(err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// MergeUserContact keeps existing values for empty inputs.
func (db *PostgresDB) MergeUserContact(ctx context.Context, id int64, name, phone string) (*models.User, error) {
	query := `
        UPDATE users
        SET name = COALESCE(NULLIF($2, ''), name),
            phone = COALESCE(NULLIF($3, ''), phone),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + userColumns

	return scanUser(db.pool.QueryRow(ctx, query, id, name, phone))
}
