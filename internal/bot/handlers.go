package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gold-bot/internal/xerrors"
)

const (
	welcomeText = "Здравствуйте! Я помогу купить физическое золото.\n" +
		"Спросите о цене или напишите, сколько грамм хотите купить."
	helpText = "/price - текущая цена за грамм\n" +
		"/start - начать разговор заново\n" +
		"Или просто напишите, что хотите купить."
	errorText = "Произошла ошибка. Пожалуйста, попробуйте ещё раз позже."
)

func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		t.logger.Infow("Received message",
			"chat_id", update.Message.Chat.ID,
			"update_id", update.UpdateID)

		if update.Message.IsCommand() {
			t.handleCommand(ctx, update.Message)
		} else {
			t.handleMessage(ctx, update.Message)
		}
	case update.CallbackQuery != nil:
		// Only URL buttons are sent; acknowledge anything else.
		if _, err := t.sender.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
			t.logger.Warnw("Failed to answer callback", "error", err)
		}
	}
}

func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	switch message.Command() {
	case "start":
		t.advisor.Reset(conversationID(chatID))
		t.send(tgbotapi.NewMessage(chatID, welcomeText))
	case "help":
		t.send(tgbotapi.NewMessage(chatID, helpText))
	case "price":
		price, currency := t.advisor.CurrentPrice(ctx)
		t.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Текущая цена: %s %s за грамм", price.StringFixed(2), currency)))
	default:
		t.send(tgbotapi.NewMessage(chatID, "Неизвестная команда.\n\n"+helpText))
	}
}

func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if message.Text == "" {
		return
	}

	reply, err := t.advisor.Handle(ctx, conversationID(chatID), nil, message.Text)
	if err != nil {
		t.logger.Errorw("Advisor failed", "chat_id", chatID, "kind", xerrors.KindOf(err), "error", err)
		_, text := xerrors.Public(err)
		if xerrors.KindOf(err) == xerrors.KindInternal {
			text = errorText
		}
		t.send(tgbotapi.NewMessage(chatID, text))
		return
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.PurchaseURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Купить золото", reply.PurchaseURL),
			),
		)
	}
	t.send(msg)
}

func (t *TelegramBot) send(msg tgbotapi.MessageConfig) {
	if msg.Text == "" {
		msg.Text = errorText
	}
	if _, err := t.sender.Send(msg); err != nil {
		t.logger.Errorw("Failed to send message", "chat_id", msg.ChatID, "error", err)
	}
}

func conversationID(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}
