package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-bot/internal/advisory"
	"gold-bot/internal/session"
	"gold-bot/internal/xerrors"
	"gold-bot/pkg/logger"
)

type fakeSender struct {
	sent     []tgbotapi.MessageConfig
	requests int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type fakeAdvisor struct {
	reply *advisory.Reply
	err   error
	reset []string
	texts []string
}

func (f *fakeAdvisor) Handle(_ context.Context, _ string, _ *int64, text string) (*advisory.Reply, error) {
	f.texts = append(f.texts, text)
	return f.reply, f.err
}

func (f *fakeAdvisor) CurrentPrice(context.Context) (decimal.Decimal, string) {
	return decimal.RequireFromString("6500"), "RUB"
}

func (f *fakeAdvisor) Reset(id string) { f.reset = append(f.reset, id) }

func newTestBot(adv *fakeAdvisor) (*TelegramBot, *fakeSender) {
	sender := &fakeSender{}
	return &TelegramBot{sender: sender, advisor: adv, logger: logger.NewNop()}, sender
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: chatID}}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"/start", "Здравствуйте"},
		{"/help", "/price"},
		{"/price", "6500.00 RUB"},
		{"/unknown", "Неизвестная команда"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			adv := &fakeAdvisor{}
			b, sender := newTestBot(adv)
			b.handleUpdate(context.Background(), textUpdate(42, tt.command))

			require.Len(t, sender.sent, 1)
			assert.Contains(t, sender.sent[0].Text, tt.want)
			assert.Empty(t, adv.texts, "command was forwarded to the advisor")
		})
	}
}

func TestStartResetsConversation(t *testing.T) {
	adv := &fakeAdvisor{}
	b, _ := newTestBot(adv)
	b.handleUpdate(context.Background(), textUpdate(7, "/start"))
	assert.Equal(t, []string{"tg:7"}, adv.reset)
}

func TestMessageWithPurchaseLink(t *testing.T) {
	adv := &fakeAdvisor{reply: &advisory.Reply{
		Text:        "Оформим покупку",
		Relevant:    true,
		Token:       &session.Token{Value: "tok"},
		PurchaseURL: "https://gold.example/buy?token=tok",
	}}
	b, sender := newTestBot(adv)
	b.handleUpdate(context.Background(), textUpdate(42, "хочу купить 5 грамм"))

	require.Len(t, sender.sent, 1)
	markup, ok := sender.sent[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "reply markup = %T, want inline keyboard", sender.sent[0].ReplyMarkup)
	btn := markup.InlineKeyboard[0][0]
	require.NotNil(t, btn.URL)
	assert.Equal(t, "https://gold.example/buy?token=tok", *btn.URL)
}

func TestMessageWithoutLink(t *testing.T) {
	adv := &fakeAdvisor{reply: &advisory.Reply{Text: "Цена 6500 за грамм"}}
	b, sender := newTestBot(adv)
	b.handleUpdate(context.Background(), textUpdate(42, "сколько стоит?"))

	require.Len(t, sender.sent, 1)
	assert.Nil(t, sender.sent[0].ReplyMarkup)
}

func TestAdvisorErrorsShownSafely(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "taxonomy error", err: xerrors.ErrPersistence.Wrap(errors.New("pq: secret detail")), want: xerrors.ErrPersistence.Message},
		{name: "unknown error", err: errors.New("boom"), want: errorText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, sender := newTestBot(&fakeAdvisor{err: tt.err})
			b.handleUpdate(context.Background(), textUpdate(42, "buy"))
			require.Len(t, sender.sent, 1)
			assert.Equal(t, tt.want, sender.sent[0].Text)
		})
	}
}

func TestCallbackAcknowledged(t *testing.T) {
	b, sender := newTestBot(&fakeAdvisor{})
	b.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb"}})
	assert.Equal(t, 1, sender.requests)
}
