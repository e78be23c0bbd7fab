package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fuomag9/inframirror/internal/models"
)

// DiscordProvider sends Discord webhook notifications
type DiscordProvider struct{}

func init() {
	RegisterProvider(&DiscordProvider{})
}

func (d *DiscordProvider) Name() string {
	return "discord"
}

func (d *DiscordProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	webhookURL := configString(n.Config, "webhook_url")
	if webhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}

	username := configString(n.Config, "username")
	if username == "" {
		username = "InfraMirror"
	}

	color := 0x808080
	switch message.Kind {
	case KindUp:
		color = 0x00FF00
	case KindDown:
		color = 0xFF0000
	case KindResend:
		color = 0xFF8C00
	}

	fields := []map[string]any{
		{"name": "Monitor", "value": message.MonitorName, "inline": true},
		{"name": "Status", "value": message.Status, "inline": true},
	}
	if message.Ping > 0 {
		fields = append(fields, map[string]any{"name": "Response Time", "value": fmt.Sprintf("%dms", message.Ping), "inline": true})
	}
	if message.MonitorURL != "" {
		fields = append(fields, map[string]any{"name": "URL", "value": message.MonitorURL, "inline": false})
	}

	payload := map[string]any{
		"username": username,
		"embeds": []map[string]any{{
			"title":       message.Title,
			"description": message.Body,
			"color":       color,
			"timestamp":   message.Time,
			"fields":      fields,
		}},
	}

	return postJSON(ctx, "Discord", http.MethodPost, webhookURL, payload, nil)
}

func (d *DiscordProvider) Validate(config map[string]any) error {
	return requireString(config, "webhook_url")
}
