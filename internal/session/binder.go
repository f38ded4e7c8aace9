package session

import (
	"context"
	"fmt"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
)

// Bind attaches userID to the session behind an already verified token and
// marks the purchase intent as confirmed. The store applies the change only
// while the session is still active and unexpired.
func (v *Verifier) Bind(ctx context.Context, res Result, userID int64) (*models.Session, error) {
	if !res.Valid() {
		return nil, res.Err()
	}
	if res.Session.UserID != nil && *res.Session.UserID != userID {
		return nil, xerrors.ErrSessionBoundToOther
	}

	sess, err := v.store.BindSessionUser(ctx, res.Session.Token, userID)
	if err != nil {
		return nil, xerrors.Persistence(fmt.Errorf("bind session: %w", err))
	}
	return sess, nil
}

// Sweep deactivates expired sessions and reports how many were touched.
func (v *Verifier) Sweep(ctx context.Context) (int64, error) {
	n, err := v.store.ExpireStaleSessions(ctx)
	if err != nil {
		return 0, xerrors.Persistence(fmt.Errorf("expire sessions: %w", err))
	}
	return n, nil
}
