package purchase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-bot/internal/models"
	"gold-bot/internal/price"
	"gold-bot/internal/purchase"
	"gold-bot/internal/session"
	"gold-bot/internal/storage/memory"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

const secret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	store     *memory.Store
	issuer    *session.Issuer
	verifier  *session.Verifier
	processor *purchase.Processor
	user      *models.User
}

func newFixture(t *testing.T, unitPrice string) *fixture {
	t.Helper()
	keys, err := session.NewKeyring("k1", []byte(secret), "gold-bot-test")
	require.NoError(t, err)
	store := memory.New()
	verifier := session.NewVerifier(keys, store)

	u := &models.User{Email: "anna@example.com", Name: "Anna"}
	require.NoError(t, store.InsertUser(context.Background(), u))

	oracle := price.Static(decimal.RequireFromString(unitPrice))
	return &fixture{
		store:     store,
		issuer:    session.NewIssuer(keys, store),
		verifier:  verifier,
		processor: purchase.NewProcessor(store, verifier, oracle, "rub", logger.NewNop()),
		user:      u,
	}
}

func (f *fixture) issue(t *testing.T) string {
	t.Helper()
	tok, err := f.issuer.Issue(context.Background(), nil, "what is the price?")
	require.NoError(t, err)
	return tok.Value
}

func (f *fixture) request(token, quantity string) purchase.Request {
	return purchase.Request{
		UserID:        &f.user.ID,
		Quantity:      decimal.RequireFromString(quantity),
		Token:         token,
		PaymentMethod: "digital",
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s = %s, want %s", what, got, want)
}

func TestPurchase_FiveGrams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "6500.00")
	token := f.issue(t)

	res, err := f.verifier.Verify(ctx, token)
	require.NoError(t, err)
	require.True(t, res.Valid(), "before purchase: %s", res.Outcome)
	require.True(t, res.Session.IsActive)

	receipt, err := f.processor.Purchase(ctx, f.request(token, "5.0"))
	require.NoError(t, err)
	assertDecimal(t, "32500.00", receipt.Total, "total")
	assertDecimal(t, "6500.00", receipt.UnitPrice, "unit price")
	assert.Equal(t, models.StatusCompleted, receipt.Status)
	assert.Equal(t, "RUB", receipt.Currency)
	assert.Regexp(t, `^TXN-`, receipt.Reference)

	res, err = f.verifier.Verify(ctx, token)
	require.NoError(t, err)
	assert.False(t, res.Valid())
	assert.Equal(t, session.ReasonConsumed, res.Reason)

	txs := f.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, res.Session.ID, txs[0].SessionID)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPurchaseCompleted, events[0].EventType)
	assert.Equal(t, receipt.Reference, events[0].Metadata["reference"])
}

func TestPurchase_RecordsBuyerOnUnboundSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "6500.00")
	token := f.issue(t)

	_, err := f.processor.Purchase(ctx, f.request(token, "1"))
	require.NoError(t, err)

	lookup, err := f.store.SessionByToken(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, lookup.Session.UserID, "consumed session must name its buyer")
	assert.Equal(t, f.user.ID, *lookup.Session.UserID)
	assert.Equal(t, f.user.ID, lookup.User.ID)
}

func TestPurchase_QuantityBounds(t *testing.T) {
	tests := []struct {
		quantity string
		wantErr  bool
	}{
		{"0.05", true},
		{"0.0999", true},
		{"0.1", false},
		{"1000", false},
		{"1000.01", true},
		{"1500", true},
		{"-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.quantity, func(t *testing.T) {
			f := newFixture(t, "6500.00")
			token := f.issue(t)

			_, err := f.processor.Purchase(context.Background(), f.request(token, tt.quantity))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, xerrors.ErrInvalidQuantity)
			assert.Equal(t, xerrors.KindValidation, xerrors.KindOf(err))
			assert.Empty(t, f.store.Transactions(), "rejected purchase wrote a transaction")

			res, _ := f.verifier.Verify(context.Background(), token)
			assert.True(t, res.Valid(), "rejected purchase consumed the session")
		})
	}
}

func TestPurchase_ExactTotals(t *testing.T) {
	tests := []struct {
		quantity, unitPrice, total string
	}{
		{"5.0", "6500.00", "32500"},
		{"0.1", "6500.00", "650"},
		{"0.3", "6543.21", "1962.963"},
		{"1.111", "7000.07", "7777.07777"},
		{"999.999", "6500.01", "6500003.49999"},
		{"1000", "0.01", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.quantity+"x"+tt.unitPrice, func(t *testing.T) {
			f := newFixture(t, tt.unitPrice)
			receipt, err := f.processor.Purchase(context.Background(), f.request(f.issue(t), tt.quantity))
			require.NoError(t, err)
			assertDecimal(t, tt.total, receipt.Total, "total")
			assert.True(t, receipt.Total.Equal(receipt.Quantity.Mul(receipt.UnitPrice)),
				"total %s != quantity %s x unit price %s", receipt.Total, receipt.Quantity, receipt.UnitPrice)
		})
	}
}

func TestPurchase_DoubleSpendRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "6500.00")
	token := f.issue(t)

	_, err := f.processor.Purchase(ctx, f.request(token, "1"))
	require.NoError(t, err)

	_, err = f.processor.Purchase(ctx, f.request(token, "1"))
	require.ErrorIs(t, err, xerrors.ErrSessionAlreadyConsumed)
	assert.Equal(t, xerrors.KindConflict, xerrors.KindOf(err))
	assert.Len(t, f.store.Transactions(), 1)
}

func TestPurchase_ConcurrentDoubleSpend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "6500.00")
	token := f.issue(t)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.processor.Purchase(ctx, f.request(token, "2"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case xerrors.KindOf(err) == xerrors.KindConflict:
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others, "unexpected errors")
	assert.Equal(t, 1, succeeded, "exactly one purchase may succeed")
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, f.store.Transactions(), 1)
	assert.Len(t, f.store.Events(), 1)
}

func TestPurchase_RollbackOnEventFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "6500.00")
	token := f.issue(t)
	f.store.FailOn(memory.StageInsertEvent, errors.New("disk full"))

	_, err := f.processor.Purchase(ctx, f.request(token, "1"))
	require.Error(t, err)
	assert.Equal(t, xerrors.KindPersistence, xerrors.KindOf(err))
	assert.Empty(t, f.store.Transactions(), "transactions after rollback")

	res, _ := f.verifier.Verify(ctx, token)
	require.True(t, res.Valid(), "session after rollback = %s/%s", res.Outcome, res.Reason)
	assert.Nil(t, res.Session.UserID, "rollback must not record a buyer")

	// The same session can be retried once storage recovers.
	_, err = f.processor.Purchase(ctx, f.request(token, "1"))
	assert.NoError(t, err)
}

func TestPurchase_SessionChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid token", func(t *testing.T) {
		f := newFixture(t, "6500.00")
		_, err := f.processor.Purchase(ctx, f.request("forged.token.value", "1"))
		assert.ErrorIs(t, err, xerrors.ErrInvalidToken)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t, "6500.00")
		req := f.request(f.issue(t), "1")
		missing := int64(9999)
		req.UserID = &missing
		_, err := f.processor.Purchase(ctx, req)
		assert.ErrorIs(t, err, xerrors.ErrUserNotFound)
	})

	t.Run("session bound to another user", func(t *testing.T) {
		f := newFixture(t, "6500.00")
		tok, err := f.issuer.Issue(ctx, &f.user.ID, "")
		require.NoError(t, err)
		other := &models.User{Email: "boris@example.com"}
		require.NoError(t, f.store.InsertUser(ctx, other))

		req := f.request(tok.Value, "1")
		req.UserID = &other.ID
		_, err = f.processor.Purchase(ctx, req)
		assert.Equal(t, xerrors.KindAuthInvalid, xerrors.KindOf(err), "error = %v", err)
	})

	t.Run("bound session supplies the buyer", func(t *testing.T) {
		f := newFixture(t, "6500.00")
		tok, err := f.issuer.Issue(ctx, &f.user.ID, "")
		require.NoError(t, err)

		req := f.request(tok.Value, "1")
		req.UserID = nil
		req.RequireBound = true
		_, err = f.processor.Purchase(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, f.store.Transactions()[0].UserID)
	})

	t.Run("unbound session rejected when binding required", func(t *testing.T) {
		f := newFixture(t, "6500.00")
		req := f.request(f.issue(t), "1")
		req.RequireBound = true
		_, err := f.processor.Purchase(ctx, req)
		assert.ErrorIs(t, err, xerrors.ErrSessionNotBound)
	})
}

func TestPurchase_PaymentMethod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "6500.00")

	req := f.request(f.issue(t), "1")
	req.PaymentMethod = "crypto"
	_, err := f.processor.Purchase(ctx, req)
	require.ErrorIs(t, err, xerrors.ErrInvalidPaymentMethod)

	req.PaymentMethod = ""
	receipt, err := f.processor.Purchase(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, purchase.DefaultPaymentMethod, receipt.PaymentMethod)
}

func TestReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "6500.00")

	receipt, err := f.processor.Purchase(ctx, f.request(f.issue(t), "2.5"))
	require.NoError(t, err)

	got, err := f.processor.Receipt(ctx, receipt.Reference)
	require.NoError(t, err)
	assert.Equal(t, receipt.Reference, got.Reference)
	assert.True(t, got.Total.Equal(receipt.Total), "total = %s, want %s", got.Total, receipt.Total)

	_, err = f.processor.Receipt(ctx, "TXN-MISSING")
	assert.ErrorIs(t, err, xerrors.ErrTransactionNotFound)
}
