package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
)

// DefaultTTL is how long an issued session stays usable.
const DefaultTTL = time.Hour

// Token is what the advisory service hands to the client.
type Token struct {
	Value     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Issuer struct {
	keys  *Keyring
	store Store
	ttl   time.Duration
	now   func() time.Time
}

type IssuerOption func(*Issuer)

func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerClock overrides the clock used for iat/exp.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(keys *Keyring, store Store, opts ...IssuerOption) *Issuer {
	i := &Issuer{keys: keys, store: store, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a signed token, optionally bound to userID, and records the
// session. The token is returned only after the row has been written.
func (i *Issuer) Issue(ctx context.Context, userID *int64, message string) (*Token, error) {
	// Second precision keeps the stored expiry equal to the signed exp claim.
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)
	sessionID := uuid.NewString()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if userID != nil {
		claims.UserID = strconv.FormatInt(*userID, 10)
		claims.Subject = claims.UserID
	}

	signed, err := i.keys.sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	sess := &models.Session{
		ID:        sessionID,
		Token:     signed,
		UserID:    userID,
		Message:   message,
		CreatedAt: issuedAt,
		ExpiresAt: expiresAt,
		IsActive:  true,
	}
	if err := i.store.CreateSession(ctx, sess); err != nil {
		return nil, xerrors.Persistence(fmt.Errorf("create session: %w", err))
	}

	return &Token{Value: signed, SessionID: sessionID, ExpiresAt: expiresAt}, nil
}
