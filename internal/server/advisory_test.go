package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-bot/internal/advisory"
	"gold-bot/internal/gpt"
	"gold-bot/internal/metrics"
	"gold-bot/internal/models"
	"gold-bot/internal/price"
	"gold-bot/internal/server"
	"gold-bot/internal/session"
	"gold-bot/internal/storage/memory"
	"gold-bot/pkg/logger"
)

func newAdvisoryRouter(keys *session.Keyring, store *memory.Store) http.Handler {
	l := logger.NewNop()
	m := metrics.New("advisory")

	// Unreachable model endpoint: the classifier falls back to keywords.
	classifier := gpt.NewClientWithBaseURL("test", "http://127.0.0.1:1", l)
	adv := advisory.NewAdvisor(
		classifier,
		session.NewIssuer(keys, store),
		price.Static(decimal.RequireFromString("6500")),
		advisory.Config{Threshold: 0.6, PurchaseURL: "https://gold.example/buy", Currency: "RUB"},
		m,
		l,
	)
	return server.NewAdvisoryRouter(server.AdvisoryDeps{Advisor: adv, Metrics: m, Logger: l})
}

func newAdvisoryHandler(t *testing.T) (http.Handler, *session.Verifier) {
	t.Helper()
	keys, err := session.NewKeyring("k1", []byte("0123456789abcdef0123456789abcdef"), "test")
	require.NoError(t, err)
	store := memory.New()
	return newAdvisoryRouter(keys, store), session.NewVerifier(keys, store)
}

func postMessage(t *testing.T, h http.Handler, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/advisory/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "invalid JSON body %q", rec.Body.String())
	return rec.Code, env
}

func TestAdvisoryMessage_IssuesToken(t *testing.T) {
	h, verifier := newAdvisoryHandler(t)

	status, env := postMessage(t, h, `{"conversation_id":"web-1","message":"хочу купить 5 грамм золота"}`)
	require.Equal(t, http.StatusOK, status, "body = %+v", env)

	var reply advisory.Reply
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	require.NotNil(t, reply.Token, "reply = %+v", reply)
	assert.Contains(t, reply.PurchaseURL, "token=")

	res, err := verifier.Verify(context.Background(), reply.Token.Value)
	require.NoError(t, err)
	assert.True(t, res.Valid(), "issued token does not verify: %s", res.Outcome)
}

func TestAdvisoryMessage_IgnoresClaimedUser(t *testing.T) {
	ctx := context.Background()
	settlement := newSettlement(t)
	advisoryHandler := newAdvisoryRouter(settlement.keys, settlement.store)

	victim := &models.User{Email: "victim@example.com", Name: "Victim"}
	require.NoError(t, settlement.store.InsertUser(ctx, victim))

	body := fmt.Sprintf(`{"conversation_id":"web-1","user_id":%d,"message":"хочу купить 5 грамм золота"}`, victim.ID)
	status, env := postMessage(t, advisoryHandler, body)
	require.Equal(t, http.StatusOK, status, "body = %+v", env)

	var reply advisory.Reply
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	require.NotNil(t, reply.Token)

	lookup, err := settlement.store.SessionByToken(ctx, reply.Token.Value)
	require.NoError(t, err)
	assert.Nil(t, lookup.Session.UserID, "session minted over HTTP must not be bound")

	// Without initiation the token cannot be spent on the claimed user's account.
	status, env = settlement.do(t, http.MethodPost, "/api/v1/purchases/confirm", map[string]any{
		"token": reply.Token.Value, "quantity": "5",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "session_not_bound", env.Code)
	assert.Empty(t, settlement.store.Transactions())
}

func TestAdvisoryMessage_SmallTalk(t *testing.T) {
	h, _ := newAdvisoryHandler(t)

	status, env := postMessage(t, h, `{"conversation_id":"web-1","message":"расскажи анекдот"}`)
	require.Equal(t, http.StatusOK, status)

	var reply advisory.Reply
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	assert.Nil(t, reply.Token)
	assert.NotEmpty(t, reply.Text)
}

func TestAdvisoryMessage_BadRequests(t *testing.T) {
	h, _ := newAdvisoryHandler(t)

	for _, body := range []string{``, `{`, `{"conversation_id":"x"}`, `{"message":"buy gold"}`} {
		status, env := postMessage(t, h, body)
		assert.Equal(t, http.StatusBadRequest, status, "body %q", body)
		assert.Equal(t, "validation_error", env.Kind, "body %q", body)
	}
}
