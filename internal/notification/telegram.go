package notification

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/fuomag9/inframirror/internal/models"
)

// TelegramProvider sends Telegram bot notifications
type TelegramProvider struct{}

func init() {
	RegisterProvider(&TelegramProvider{})
}

func (t *TelegramProvider) Name() string {
	return "telegram"
}

func (t *TelegramProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	botToken := configString(n.Config, "bot_token")
	chatID := configString(n.Config, "chat_id")
	if botToken == "" || chatID == "" {
		return fmt.Errorf("bot_token and chat_id are required")
	}
	apiURL := strings.TrimRight(configString(n.Config, "api_url"), "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	silent, _ := n.Config["disable_notification"].(bool)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s %s</b>\n\n", statusEmoji(message.Kind), html.EscapeString(message.Title))
	if message.Body != "" {
		b.WriteString(html.EscapeString(message.Body) + "\n\n")
	}
	fmt.Fprintf(&b, "<b>Monitor:</b> %s\n", html.EscapeString(message.MonitorName))
	if message.MonitorURL != "" {
		fmt.Fprintf(&b, "<b>URL:</b> %s\n", html.EscapeString(message.MonitorURL))
	}
	if message.Ping > 0 {
		fmt.Fprintf(&b, "<b>Response Time:</b> %dms\n", message.Ping)
	}
	fmt.Fprintf(&b, "<b>Time:</b> %s", message.Time)

	payload := map[string]any{
		"chat_id":              chatID,
		"text":                 b.String(),
		"parse_mode":           "HTML",
		"disable_notification": silent && !message.Important,
	}
	req, err := newJSONRequest(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/sendMessage", apiURL, botToken), payload)
	if err != nil {
		return err
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := do(req, "Telegram", &result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("Telegram API error: %s", result.Description)
	}
	return nil
}

func (t *TelegramProvider) Validate(config map[string]any) error {
	if err := requireString(config, "bot_token"); err != nil {
		return err
	}
	return requireString(config, "chat_id")
}
