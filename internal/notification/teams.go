package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fuomag9/inframirror/internal/models"
)

// TeamsProvider sends Microsoft Teams webhook notifications as MessageCards
type TeamsProvider struct{}

func init() {
	RegisterProvider(&TeamsProvider{})
}

func (t *TeamsProvider) Name() string {
	return "teams"
}

func (t *TeamsProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	webhookURL := configString(n.Config, "webhook_url")
	if webhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}

	themeColor := "808080"
	switch message.Kind {
	case KindUp:
		themeColor = "2EB886"
	case KindDown, KindResend:
		themeColor = "E01E5A"
	}

	facts := []map[string]string{
		{"name": "Monitor", "value": message.MonitorName},
		{"name": "Status", "value": message.Status},
	}
	if message.Ping > 0 {
		facts = append(facts, map[string]string{"name": "Response Time", "value": fmt.Sprintf("%dms", message.Ping)})
	}
	if message.MonitorURL != "" {
		facts = append(facts, map[string]string{"name": "URL", "value": message.MonitorURL})
	}
	facts = append(facts, map[string]string{"name": "Time", "value": message.Time})

	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    message.Title,
		"themeColor": themeColor,
		"title":      message.Title,
		"text":       message.Body,
		"sections":   []map[string]any{{"facts": facts}},
	}
	return postJSON(ctx, "Teams", http.MethodPost, webhookURL, payload, nil)
}

func (t *TeamsProvider) Validate(config map[string]any) error {
	return requireString(config, "webhook_url")
}
