package notification

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/fuomag9/inframirror/internal/models"
)

// NtfyProvider publishes to an ntfy topic (self-hosted or ntfy.sh)
type NtfyProvider struct{}

func init() {
	RegisterProvider(&NtfyProvider{})
}

func (n *NtfyProvider) Name() string {
	return "ntfy"
}

func (n *NtfyProvider) Send(ctx context.Context, notif *models.Notification, message *Message) error {
	topic := configString(notif.Config, "topic")
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	serverURL := strings.TrimRight(configString(notif.Config, "server_url"), "/")
	if serverURL == "" {
		serverURL = "https://ntfy.sh"
	}

	priority, _ := notif.Config["priority"].(float64)
	if priority == 0 {
		priority = 3
		if message.Important {
			priority = 4
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/"+topic, strings.NewReader(FormatMessage(message)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Title", message.Title)
	req.Header.Set("Priority", strconv.Itoa(int(priority)))
	req.Header.Set("Tags", ntfyTags(message.Kind))
	if message.MonitorURL != "" {
		req.Header.Set("Actions", "view, Open target, "+message.MonitorURL)
	}

	username := configString(notif.Config, "username")
	password := configString(notif.Config, "password")
	if token := configString(notif.Config, "access_token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if username != "" && password != "" {
		req.SetBasicAuth(username, password)
	}

	return do(req, "ntfy", nil)
}

func (n *NtfyProvider) Validate(config map[string]any) error {
	if err := requireString(config, "topic"); err != nil {
		return err
	}
	if p, ok := config["priority"].(float64); ok && (p < 1 || p > 5) {
		return fmt.Errorf("priority must be between 1 and 5")
	}
	return nil
}

func ntfyTags(kind string) string {
	switch kind {
	case KindUp:
		return "white_check_mark"
	case KindDown:
		return "x,warning"
	case KindResend:
		return "repeat,warning"
	default:
		return "information_source"
	}
}
