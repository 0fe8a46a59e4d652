package notification

import (
	"context"
	"fmt"
	"log"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the slice of the Bot API the notifier uses.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// TelegramNotifier sends alerts via Telegram Bot API.
type TelegramNotifier struct {
	bot    Sender
	chatID int64
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbot.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return NewTelegramNotifierWith(bot, chatID), nil
}

// NewTelegramNotifierWith wraps an existing bot client.
func NewTelegramNotifierWith(bot Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji,
		tgbot.EscapeText(tgbot.ModeMarkdownV2, alert.Title),
		tgbot.EscapeText(tgbot.ModeMarkdownV2, alert.Message))

	msg := tgbot.NewMessage(t.chatID, text)
	msg.ParseMode = tgbot.ModeMarkdownV2
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}
