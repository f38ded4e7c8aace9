package advisory_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-bot/internal/advisory"
	"gold-bot/internal/gpt"
	"gold-bot/internal/metrics"
	"gold-bot/internal/price"
	"gold-bot/internal/session"
	"gold-bot/internal/storage/memory"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

type stubClassifier struct {
	cls       gpt.Classification
	histories [][]gpt.Turn
}

func (s *stubClassifier) Classify(_ context.Context, _ string, history []gpt.Turn) gpt.Classification {
	s.histories = append(s.histories, history)
	return s.cls
}

type fixture struct {
	store      *memory.Store
	classifier *stubClassifier
	advisor    *advisory.Advisor
	verifier   *session.Verifier
}

func defaultConfig() advisory.Config {
	return advisory.Config{Threshold: 0.6, PurchaseURL: "https://gold.example/buy?src=bot", Currency: "RUB"}
}

func newFixture(t *testing.T, cls gpt.Classification) *fixture {
	return newFixtureWithConfig(t, cls, defaultConfig())
}

func newFixtureWithConfig(t *testing.T, cls gpt.Classification, cfg advisory.Config) *fixture {
	t.Helper()
	keys, err := session.NewKeyring("k1", []byte("0123456789abcdef0123456789abcdef"), "test")
	require.NoError(t, err)

	store := memory.New()
	classifier := &stubClassifier{cls: cls}
	adv := advisory.NewAdvisor(
		classifier,
		session.NewIssuer(keys, store),
		price.Static(decimal.RequireFromString("6500.00")),
		cfg,
		metrics.New("advisory"),
		logger.NewNop(),
	)
	return &fixture{store: store, classifier: classifier, advisor: adv, verifier: session.NewVerifier(keys, store)}
}

func TestHandle_IssuesSessionWhenConfident(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gpt.Classification{IsRelevant: true, Confidence: 0.9, Reply: "Оформим", Summary: "buy 5g"})

	reply, err := f.advisor.Handle(ctx, "chat-1", nil, "хочу купить 5 грамм")
	require.NoError(t, err)
	require.NotNil(t, reply.Token, "expected a session token")

	u, err := url.Parse(reply.PurchaseURL)
	require.NoError(t, err)
	assert.Equal(t, reply.Token.Value, u.Query().Get("token"))
	assert.Equal(t, "bot", u.Query().Get("src"))

	res, err := f.verifier.Verify(ctx, reply.Token.Value)
	require.NoError(t, err)
	require.True(t, res.Valid(), "issued token does not verify: %s", res.Outcome)
	assert.Equal(t, "buy 5g", res.Session.Message, "session message should be the classifier summary")
}

func TestHandle_NoSessionBelowThreshold(t *testing.T) {
	tests := []struct {
		name string
		cls  gpt.Classification
	}{
		{name: "irrelevant", cls: gpt.Classification{IsRelevant: false, Confidence: 0.95, Reply: "?"}},
		{name: "low confidence", cls: gpt.Classification{IsRelevant: true, Confidence: 0.59, Reply: "?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cls)
			reply, err := f.advisor.Handle(context.Background(), "chat-1", nil, "hello")
			require.NoError(t, err)
			assert.Nil(t, reply.Token)
			assert.Empty(t, reply.PurchaseURL)
		})
	}
}

func TestHandle_IssueFailureReturnsNoToken(t *testing.T) {
	f := newFixture(t, gpt.Classification{IsRelevant: true, Confidence: 1})
	f.store.FailOn(memory.StageCreateSession, errors.New("db down"))

	reply, err := f.advisor.Handle(context.Background(), "chat-1", nil, "buy gold")
	assert.Nil(t, reply)
	require.Error(t, err)
	assert.Equal(t, xerrors.KindPersistence, xerrors.KindOf(err))
}

func TestHandle_RejectsEmptyInput(t *testing.T) {
	f := newFixture(t, gpt.Classification{})
	_, err := f.advisor.Handle(context.Background(), "chat-1", nil, "   ")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindValidation, xerrors.KindOf(err))
}

func TestHandle_HistoryCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, gpt.Classification{IsRelevant: false, Reply: "ok"})

	for i := 0; i < 8; i++ {
		_, err := f.advisor.Handle(ctx, "chat-1", nil, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	h := f.advisor.History("chat-1")
	require.Len(t, h, advisory.MaxHistory)
	assert.Equal(t, "message 3", h[0].Content)
	assert.Equal(t, gpt.RoleAssistant, h[len(h)-1].Role)

	// The classifier saw the history as it was before the current message.
	assert.Empty(t, f.classifier.histories[0])
	assert.Len(t, f.classifier.histories[1], 2)

	assert.Empty(t, f.advisor.History("chat-2"), "conversations leak into each other")
	f.advisor.Reset("chat-1")
	assert.Empty(t, f.advisor.History("chat-1"), "Reset() kept history")
	assert.Zero(t, f.advisor.Conversations())
}

func TestHandle_ForgetsLeastRecentConversation(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.MaxConversations = 2
	f := newFixtureWithConfig(t, gpt.Classification{Reply: "ok"}, cfg)

	for _, id := range []string{"a", "b", "a", "c"} {
		_, err := f.advisor.Handle(ctx, id, nil, "hello from "+id)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.advisor.Conversations())
	assert.Empty(t, f.advisor.History("b"), "least recently active conversation should be dropped")
	assert.Len(t, f.advisor.History("a"), 4)
	assert.Len(t, f.advisor.History("c"), 2)
}

func TestHandle_ManyConversationsStayBounded(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.MaxConversations = 50
	f := newFixtureWithConfig(t, gpt.Classification{Reply: "ok"}, cfg)

	for i := 0; i < 500; i++ {
		_, err := f.advisor.Handle(ctx, fmt.Sprintf("conv-%d", i), nil, "hi")
		require.NoError(t, err)
	}
	assert.Equal(t, 50, f.advisor.Conversations())
}
