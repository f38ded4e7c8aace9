package session

import (
	"context"
	"time"

	"gold-bot/internal/models"
)

// Lookup is a session row together with the store's clock reading taken in
// the same round trip. Expiry decisions use Now, never the caller's clock.
type Lookup struct {
	Session *models.Session
	User    *models.User
	Now     time.Time
}

// Store is the single source of truth for session validity.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	// SessionByToken returns xerrors.ErrSessionNotFound when no row matches.
	SessionByToken(ctx context.Context, token string) (*Lookup, error)
	// BindSessionUser attaches userID to an active, unexpired session once.
	// Binding the same user again is a no-op; another user yields
	// xerrors.ErrSessionBoundToOther.
	BindSessionUser(ctx context.Context, token string, userID int64) (*models.Session, error)
	// ExpireStaleSessions deactivates every active session whose expiry has passed.
	ExpireStaleSessions(ctx context.Context) (int64, error)
}
