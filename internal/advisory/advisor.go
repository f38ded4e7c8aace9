// Package advisory is the conversational front of the system: it classifies
// user messages and hands out purchase sessions when intent is clear.
package advisory

import (
	"container/list"
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"gold-bot/internal/gpt"
	"gold-bot/internal/price"
	"gold-bot/internal/session"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

// MaxHistory is how many turns of a conversation are kept as model context.
const MaxHistory = 10

// DefaultMaxConversations bounds how many conversations are remembered at once.
// The least recently active one is forgotten first.
const DefaultMaxConversations = 10000

type Classifier interface {
	Classify(ctx context.Context, text string, history []gpt.Turn) gpt.Classification
}

type TokenIssuer interface {
	Issue(ctx context.Context, userID *int64, message string) (*session.Token, error)
}

// Observer receives advisory events for metrics.
type Observer interface {
	Classification(source string, relevant bool)
	SessionIssued(err error)
}

type Reply struct {
	Text        string         `json:"reply"`
	Relevant    bool           `json:"relevant"`
	Confidence  float64        `json:"confidence"`
	Token       *session.Token `json:"token,omitempty"`
	PurchaseURL string         `json:"purchase_url,omitempty"`
}

type Config struct {
	Threshold        float64
	PurchaseURL      string
	Currency         string
	MaxConversations int
}

type conversation struct {
	id    string
	turns []gpt.Turn
}

type Advisor struct {
	classifier Classifier
	issuer     TokenIssuer
	oracle     price.Oracle
	cfg        Config
	observer   Observer
	logger     *logger.Logger

	mu            sync.Mutex
	recent        *list.List // of *conversation, most recent first
	conversations map[string]*list.Element
}

func NewAdvisor(classifier Classifier, issuer TokenIssuer, oracle price.Oracle, cfg Config, observer Observer, l *logger.Logger) *Advisor {
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = DefaultMaxConversations
	}
	return &Advisor{
		classifier:    classifier,
		issuer:        issuer,
		oracle:        oracle,
		cfg:           cfg,
		observer:      observer,
		logger:        l,
		recent:        list.New(),
		conversations: make(map[string]*list.Element),
	}
}

// Handle classifies text in the context of the conversation and issues a
// purchase session when the message is relevant with enough confidence.
func (a *Advisor) Handle(ctx context.Context, conversationID string, userID *int64, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if conversationID == "" || text == "" {
		return nil, xerrors.ErrInvalidRequest.WithMessage("conversation_id and message are required")
	}

	cls := a.classifier.Classify(ctx, text, a.History(conversationID))
	a.observer.Classification(cls.Source, cls.IsRelevant)

	reply := &Reply{
		Text:       cls.Reply,
		Relevant:   cls.IsRelevant,
		Confidence: cls.Confidence,
	}

	if cls.IsRelevant && cls.Confidence >= a.cfg.Threshold {
		summary := cls.Summary
		if summary == "" {
			summary = text
		}
		tok, err := a.issuer.Issue(ctx, userID, summary)
		a.observer.SessionIssued(err)
		if err != nil {
			a.logger.Errorw("Failed to issue purchase session", "conversation_id", conversationID, "error", err)
			return nil, err
		}
		reply.Token = tok
		reply.PurchaseURL = a.purchaseLink(tok.Value)
		a.logger.Infow("Issued purchase session",
			"conversation_id", conversationID,
			"session_id", tok.SessionID,
			"confidence", cls.Confidence,
			"source", cls.Source,
		)
	}

	a.remember(conversationID, gpt.Turn{Role: gpt.RoleUser, Content: text}, gpt.Turn{Role: gpt.RoleAssistant, Content: reply.Text})
	return reply, nil
}

// CurrentPrice quotes one gram in the configured currency.
func (a *Advisor) CurrentPrice(ctx context.Context) (decimal.Decimal, string) {
	return a.oracle.CurrentPrice(ctx, a.cfg.Currency), a.cfg.Currency
}

// History returns a copy of the retained turns of a conversation.
func (a *Advisor) History(conversationID string) []gpt.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	el, ok := a.conversations[conversationID]
	if !ok {
		return nil
	}
	return append([]gpt.Turn(nil), el.Value.(*conversation).turns...)
}

// Conversations reports how many conversations are currently remembered.
func (a *Advisor) Conversations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recent.Len()
}

// Reset forgets a conversation.
func (a *Advisor) Reset(conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if el, ok := a.conversations[conversationID]; ok {
		a.recent.Remove(el)
		delete(a.conversations, conversationID)
	}
}

func (a *Advisor) remember(conversationID string, turns ...gpt.Turn) {
	a.mu.Lock()
	defer a.mu.Unlock()

	el, ok := a.conversations[conversationID]
	if ok {
		a.recent.MoveToFront(el)
	} else {
		el = a.recent.PushFront(&conversation{id: conversationID})
		a.conversations[conversationID] = el
	}

	c := el.Value.(*conversation)
	h := append(c.turns, turns...)
	if len(h) > MaxHistory {
		h = append([]gpt.Turn(nil), h[len(h)-MaxHistory:]...)
	}
	c.turns = h

	for a.recent.Len() > a.cfg.MaxConversations {
		oldest := a.recent.Back()
		a.recent.Remove(oldest)
		delete(a.conversations, oldest.Value.(*conversation).id)
	}
}

func (a *Advisor) purchaseLink(token string) string {
	if a.cfg.PurchaseURL == "" {
		return ""
	}
	u, err := url.Parse(a.cfg.PurchaseURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
