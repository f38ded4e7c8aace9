// Package purchase turns a verified session into a completed transaction.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"gold-bot/internal/models"
	"gold-bot/internal/price"
	"gold-bot/internal/session"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

var (
	MinQuantity = decimal.RequireFromString("0.1")
	MaxQuantity = decimal.RequireFromString("1000")
)

const DefaultPaymentMethod = "digital"

var paymentMethods = map[string]bool{
	"digital": true,
	"card":    true,
	"cash":    true,
}

// Store is the persistence the processor needs. CommitPurchase is one atomic
// unit: it consumes the session behind token only if it is still active and
// unexpired, then writes tx and ev. A session that cannot be consumed yields
// xerrors.ErrSessionAlreadyConsumed and nothing is written.
type Store interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
	CommitPurchase(ctx context.Context, token string, tx *models.Transaction, ev *models.AnalyticsEvent) error
	TransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
}

type Verifier interface {
	Verify(ctx context.Context, token string) (session.Result, error)
}

type Request struct {
	// UserID names the buyer. When nil the user bound to the session is used.
	UserID        *int64
	Quantity      decimal.Decimal
	Token         string
	PaymentMethod string
	// RequireBound rejects sessions that were never bound to a user.
	RequireBound bool
}

type Processor struct {
	store    Store
	verifier Verifier
	oracle   price.Oracle
	currency string
	logger   *logger.Logger
}

func NewProcessor(store Store, verifier Verifier, oracle price.Oracle, currency string, l *logger.Logger) *Processor {
	return &Processor{
		store:    store,
		verifier: verifier,
		oracle:   oracle,
		currency: strings.ToUpper(currency),
		logger:   l,
	}
}

// Purchase re-verifies the session, prices the order once and commits the
// transaction together with its analytics event while consuming the session.
func (p *Processor) Purchase(ctx context.Context, req Request) (*models.Receipt, error) {
	if err := ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}
	method, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	res, err := p.verifier.Verify(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		return nil, res.Err()
	}

	userID, err := buyerOf(res.Session, req)
	if err != nil {
		return nil, err
	}
	if _, err := p.store.UserByID(ctx, userID); err != nil {
		if errors.Is(err, xerrors.ErrUserNotFound) {
			return nil, err
		}
		return nil, xerrors.Persistence(fmt.Errorf("get user %d: %w", userID, err))
	}

	unitPrice := p.oracle.CurrentPrice(ctx, p.currency)
	if !unitPrice.IsPositive() {
		return nil, xerrors.ErrInternal.Wrap(fmt.Errorf("price oracle returned %s", unitPrice))
	}
	total := req.Quantity.Mul(unitPrice)

	tx := &models.Transaction{
		Reference:     NewReference(),
		UserID:        userID,
		SessionID:     res.Session.ID,
		Quantity:      req.Quantity,
		UnitPrice:     unitPrice,
		Total:         total,
		Currency:      p.currency,
		Status:        models.StatusCompleted,
		PaymentMethod: method,
	}
	ev := &models.AnalyticsEvent{
		EventType: models.EventPurchaseCompleted,
		UserID:    &userID,
		Metadata: map[string]any{
			"reference":      tx.Reference,
			"session_id":     tx.SessionID,
			"quantity":       tx.Quantity.String(),
			"unit_price":     tx.UnitPrice.String(),
			"total":          tx.Total.String(),
			"currency":       tx.Currency,
			"payment_method": tx.PaymentMethod,
		},
	}

	if err := p.store.CommitPurchase(ctx, req.Token, tx, ev); err != nil {
		if errors.Is(err, xerrors.ErrSessionAlreadyConsumed) || errors.Is(err, xerrors.ErrDuplicateKey) {
			p.logger.Warnw("Rejected second purchase on session", "session_id", res.Session.ID, "user_id", userID)
			return nil, xerrors.ErrSessionAlreadyConsumed.Wrap(err)
		}
		p.logger.Errorw("Purchase commit failed", "session_id", res.Session.ID, "user_id", userID, "error", err)
		return nil, xerrors.Persistence(fmt.Errorf("commit purchase: %w", err))
	}

	p.logger.Infow("Purchase completed",
		"reference", tx.Reference,
		"user_id", userID,
		"quantity", tx.Quantity.String(),
		"total", tx.Total.String(),
		"currency", tx.Currency,
	)
	return tx.Receipt(), nil
}

// Receipt returns the receipt of a committed transaction.
func (p *Processor) Receipt(ctx context.Context, reference string) (*models.Receipt, error) {
	tx, err := p.store.TransactionByReference(ctx, strings.TrimSpace(reference))
	if err != nil {
		if errors.Is(err, xerrors.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, xerrors.Persistence(fmt.Errorf("get transaction: %w", err))
	}
	return tx.Receipt(), nil
}

// Quote prices quantity at the current rate without committing anything.
func (p *Processor) Quote(ctx context.Context, quantity decimal.Decimal) (unitPrice, total decimal.Decimal, err error) {
	if err := ValidateQuantity(quantity); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	unitPrice = p.oracle.CurrentPrice(ctx, p.currency)
	return unitPrice, quantity.Mul(unitPrice), nil
}

func (p *Processor) Currency() string { return p.currency }

// ValidateQuantity enforces the inclusive [0.1, 1000] gram range.
func ValidateQuantity(q decimal.Decimal) error {
	if q.LessThan(MinQuantity) || q.GreaterThan(MaxQuantity) {
		return xerrors.ErrInvalidQuantity
	}
	return nil
}

// NewReference returns a sortable human readable transaction id.
func NewReference() string {
	return "TXN-" + ulid.Make().String()
}

func buyerOf(sess *models.Session, req Request) (int64, error) {
	switch {
	case sess.UserID != nil && req.UserID != nil && *sess.UserID != *req.UserID:
		return 0, xerrors.ErrSessionUserMismatch
	case sess.UserID != nil:
		return *sess.UserID, nil
	case req.RequireBound || req.UserID == nil:
		return 0, xerrors.ErrSessionNotBound
	default:
		return *req.UserID, nil
	}
}

func normalizePaymentMethod(m string) (string, error) {
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "" {
		return DefaultPaymentMethod, nil
	}
	if !paymentMethods[m] {
		return "", xerrors.ErrInvalidPaymentMethod
	}
	return m, nil
}
