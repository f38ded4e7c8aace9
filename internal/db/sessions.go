package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"gold-bot/internal/models"
	"gold-bot/internal/session"
	"gold-bot/internal/xerrors"
)

const sessionColumns = `s.id::text, s.token, s.user_id, s.intent_confirmed, s.message,
	s.created_at, s.expires_at, s.is_active, s.consumed_at`

func scanSession(row pgx.Row, extra ...any) (*models.Session, error) {
	var s models.Session
	dest := append([]any{
		&s.ID, &s.Token, &s.UserID, &s.IntentConfirmed, &s.Message,
		&s.CreatedAt, &s.ExpiresAt, &s.IsActive, &s.ConsumedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *PostgresDB) CreateSession(ctx context.Context, s *models.Session) error {
	query := `
        INSERT INTO sessions (id, token, user_id, intent_confirmed, message, created_at, expires_at, is_active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `

	_, err := db.pool.Exec(ctx, query,
		s.ID, s.Token, s.UserID, s.IntentConfirmed, s.Message,
		s.CreatedAt, s.ExpiresAt, s.IsActive,
	)
	if xerrors.IsUniqueViolation(err) {
		return xerrors.ErrDuplicateKey.Wrap(err)
	}
	return err
}

// SessionByToken reads the session, its bound user and the database clock in
// one statement.
func (db *PostgresDB) SessionByToken(ctx context.Context, token string) (*session.Lookup, error) {
	query := `
        SELECT ` + sessionColumns + `, NOW(),
               u.id, u.email, u.name, u.phone, u.created_at, u.updated_at
        FROM sessions s
        LEFT JOIN users u ON u.id = s.user_id
        WHERE s.token = $1
    `

	var (
		now                          time.Time
		userID                       *int64
		email, name, phone           *string
		userCreatedAt, userUpdatedAt *time.Time
	)
	s, err := scanSession(db.pool.QueryRow(ctx, query, token),
		&now, &userID, &email, &name, &phone, &userCreatedAt, &userUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	lookup := &session.Lookup{Session: s, Now: now}
	if userID != nil {
		lookup.User = &models.User{
			ID:        *userID,
			Email:     *email,
			Name:      *name,
			Phone:     *phone,
			CreatedAt: *userCreatedAt,
			UpdatedAt: *userUpdatedAt,
		}
	}
	return lookup, nil
}

// BindSessionUser binds the session only while it is active, unexpired and
// either unbound or already bound to userID.
func (db *PostgresDB) BindSessionUser(ctx context.Context, token string, userID int64) (*models.Session, error) {
	query := `
        UPDATE sessions s
        SET user_id = $2, intent_confirmed = TRUE
        WHERE s.token = $1
          AND s.is_active
          AND s.expires_at > NOW()
          AND (s.user_id IS NULL OR s.user_id = $2)
        RETURNING ` + sessionColumns

	s, err := scanSession(db.pool.QueryRow(ctx, query, token, userID))
	switch {
	case err == nil:
		return s, nil
	case xerrors.IsForeignKeyViolation(err):
		return nil, xerrors.ErrUserNotFound.Wrap(err)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("failed to bind session: %w", err)
	}

	// Nothing matched: find out why.
	lookup, err := db.SessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	cur := lookup.Session
	switch {
	case cur.ConsumedAt != nil:
		return nil, xerrors.ErrSessionAlreadyConsumed
	case !cur.UsableAt(lookup.Now):
		return nil, xerrors.ErrSessionExpired
	default:
		return nil, xerrors.ErrSessionBoundToOther
	}
}

func (db *PostgresDB) ExpireStaleSessions(ctx context.Context) (int64, error) {
	query := `
        UPDATE sessions
        SET is_active = FALSE
        WHERE is_active AND expires_at <= NOW()
    `

	tag, err := db.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
