package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers messages through the Bot API. Recipients are
// numeric chat ids or @channel names.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramSender authenticates the bot token.
func NewTelegramSender(token string, timeout time.Duration) (*TelegramSender, error) {
	return NewTelegramSenderWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
}

// NewTelegramSenderWithEndpoint points the bot at a custom API endpoint.
func NewTelegramSenderWithEndpoint(token, endpoint string, client *http.Client) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	var out tgbotapi.MessageConfig
	if strings.HasPrefix(msg.Recipient, "@") {
		out = tgbotapi.NewMessageToChannel(msg.Recipient, msg.Text)
	} else {
		chatID, err := strconv.ParseInt(msg.Recipient, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram: invalid chat id %q", msg.Recipient)
		}
		out = tgbotapi.NewMessage(chatID, msg.Text)
	}
	out.ParseMode = tgbotapi.ModeMarkdown
	if msg.ButtonURL != "" {
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(msg.ButtonText, msg.ButtonURL)),
		)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(out)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("telegram: send cancelled or timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
		return nil
	}
}
