package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

// SlackProvider sends Slack incoming-webhook notifications
type SlackProvider struct{}

func init() {
	RegisterProvider(&SlackProvider{})
}

func (s *SlackProvider) Name() string {
	return "slack"
}

func (s *SlackProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	webhookURL := configString(n.Config, "webhook_url")
	if webhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}

	username := configString(n.Config, "username")
	if username == "" {
		username = "InfraMirror"
	}

	iconEmoji := configString(n.Config, "icon_emoji")
	if iconEmoji == "" {
		switch message.Kind {
		case KindUp:
			iconEmoji = ":white_check_mark:"
		case KindDown, KindResend:
			iconEmoji = ":x:"
		default:
			iconEmoji = ":information_source:"
		}
	}

	color := "#808080"
	switch message.Kind {
	case KindUp:
		color = "good"
	case KindDown, KindResend:
		color = "danger"
	}

	fields := []map[string]any{
		{"title": "Monitor", "value": message.MonitorName, "short": true},
		{"title": "Status", "value": message.Status, "short": true},
	}
	if message.Ping > 0 {
		fields = append(fields, map[string]any{"title": "Response Time", "value": fmt.Sprintf("%dms", message.Ping), "short": true})
	}
	if message.MonitorURL != "" {
		fields = append(fields, map[string]any{"title": "URL", "value": message.MonitorURL, "short": false})
	}

	payload := map[string]any{
		"username":   username,
		"icon_emoji": iconEmoji,
		"attachments": []map[string]any{{
			"color":  color,
			"title":  message.Title,
			"text":   message.Body,
			"ts":     time.Now().Unix(),
			"footer": "InfraMirror",
			"fields": fields,
		}},
	}
	if channel := configString(n.Config, "channel"); channel != "" {
		payload["channel"] = channel
	}

	return postJSON(ctx, "Slack", http.MethodPost, webhookURL, payload, nil)
}

func (s *SlackProvider) Validate(config map[string]any) error {
	return requireString(config, "webhook_url")
}
