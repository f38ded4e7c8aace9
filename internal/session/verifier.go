package session

import (
	"context"
	"errors"
	"time"

	"gold-bot/internal/models"
	"gold-bot/internal/xerrors"
)

// Outcome tags a verification result. Forgery and ordinary expiry are kept
// apart so callers can alert on the former and simply re-prompt on the latter.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeInvalidSignature
	OutcomeNotFoundOrExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalidSignature:
		return "invalid_signature"
	case OutcomeNotFoundOrExpired:
		return "not_found_or_expired"
	default:
		return "unknown"
	}
}

// Reasons detail an OutcomeNotFoundOrExpired result.
const (
	ReasonExpired  = "expired"
	ReasonUnknown  = "unknown"
	ReasonConsumed = "consumed"
)

type Result struct {
	Outcome Outcome
	Reason  string
	Session *models.Session
	User    *models.User
}

func (r Result) Valid() bool { return r.Outcome == OutcomeValid }

// Err maps a failed result onto the error taxonomy. It is nil for valid results.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeValid:
		return nil
	case OutcomeInvalidSignature:
		return xerrors.ErrInvalidToken
	}
	switch r.Reason {
	case ReasonConsumed:
		return xerrors.ErrSessionAlreadyConsumed
	case ReasonUnknown:
		return xerrors.ErrSessionNotFound
	default:
		return xerrors.ErrSessionExpired
	}
}

type Verifier struct {
	keys  *Keyring
	store Store
	now   func() time.Time
}

func NewVerifier(keys *Keyring, store Store) *Verifier {
	return &Verifier{keys: keys, store: store, now: time.Now}
}

// WithClock returns a copy of v that checks signature expiry against now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Verify checks the token's signature and then cross-checks the session
// store. It has no side effects. The returned error is non-nil only when the
// store could not be consulted.
func (v *Verifier) Verify(ctx context.Context, token string) (Result, error) {
	claims, err := v.keys.parse(token, v.now())
	if err != nil {
		if errors.Is(err, errTokenExpired) {
			return Result{Outcome: OutcomeNotFoundOrExpired, Reason: ReasonExpired}, nil
		}
		return Result{Outcome: OutcomeInvalidSignature}, nil
	}

	lookup, err := v.store.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, xerrors.ErrSessionNotFound) {
			return Result{Outcome: OutcomeNotFoundOrExpired, Reason: ReasonUnknown}, nil
		}
		return Result{}, xerrors.Persistence(err)
	}

	sess := lookup.Session
	if sess.ID != claims.ID {
		// Signed by us but not the row it claims to be.
		return Result{Outcome: OutcomeInvalidSignature}, nil
	}
	if !sess.IsActive && sess.ConsumedAt != nil {
		return Result{Outcome: OutcomeNotFoundOrExpired, Reason: ReasonConsumed, Session: sess}, nil
	}
	// Swept sessions are inactive without having been consumed.
	if !sess.IsActive || !lookup.Now.Before(sess.ExpiresAt) {
		return Result{Outcome: OutcomeNotFoundOrExpired, Reason: ReasonExpired, Session: sess}, nil
	}

	return Result{Outcome: OutcomeValid, Session: sess, User: lookup.User}, nil
}
