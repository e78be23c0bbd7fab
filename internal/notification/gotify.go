package notification

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fuomag9/inframirror/internal/models"
)

// GotifyProvider sends Gotify notifications (self-hosted)
type GotifyProvider struct{}

func init() {
	RegisterProvider(&GotifyProvider{})
}

func (g *GotifyProvider) Name() string {
	return "gotify"
}

func (g *GotifyProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	serverURL := strings.TrimRight(configString(n.Config, "server_url"), "/")
	appToken := configString(n.Config, "app_token")
	if serverURL == "" || appToken == "" {
		return fmt.Errorf("server_url and app_token are required")
	}

	priority, _ := n.Config["priority"].(float64)
	if priority == 0 {
		priority = 5
		if message.Important {
			priority = 8
		}
	}

	payload := map[string]any{
		"title":    message.Title,
		"message":  FormatMessage(message),
		"priority": int(priority),
		"extras": map[string]any{
			"monitor_id": message.MonitorID,
			"monitor":    message.MonitorName,
			"status":     message.Status,
			"kind":       message.Kind,
			"url":        message.MonitorURL,
		},
	}
	return postJSON(ctx, "Gotify", http.MethodPost,
		serverURL+"/message?token="+url.QueryEscape(appToken), payload, nil)
}

func (g *GotifyProvider) Validate(config map[string]any) error {
	if err := requireString(config, "server_url"); err != nil {
		return err
	}
	return requireString(config, "app_token")
}
