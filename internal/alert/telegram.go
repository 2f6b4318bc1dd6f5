package alert

import (
	"context"
	"fmt"
	"time"

	"qtrader/pkg/httpclient"
)

type TelegramChannel struct {
	botToken string
	chatID   string
	client   *httpclient.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   httpclient.NewClient("https://api.telegram.org", 5*time.Second),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch alert.Level {
	case Warning:
		icon = "⚠️"
	case Error:
		icon = "❌"
	case Critical:
		icon = "🚨"
	}

	text := fmt.Sprintf("%s *[%s] %s*\n\n%s", icon, alert.Level, alert.Title, alert.Message)
	if alert.AccountID != "" {
		text += fmt.Sprintf("\n\n- *account*: %s", alert.AccountID)
	}
	if alert.Symbol != "" {
		text += fmt.Sprintf("\n- *symbol*: %s", alert.Symbol)
	}
	for k, v := range alert.Fields {
		text += fmt.Sprintf("\n- *%s*: %s", k, v)
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	path := fmt.Sprintf("/bot%s/sendMessage", t.botToken)
	if _, err := t.client.Post(ctx, path, payload); err != nil {
		return fmt.Errorf("telegram api: %w", err)
	}
	return nil
}
