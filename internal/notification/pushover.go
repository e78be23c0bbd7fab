package notification

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fuomag9/inframirror/internal/models"
)

const pushoverAPI = "https://api.pushover.net/1/messages.json"

// PushoverProvider sends Pushover notifications
type PushoverProvider struct{}

func init() {
	RegisterProvider(&PushoverProvider{})
}

func (p *PushoverProvider) Name() string {
	return "pushover"
}

func (p *PushoverProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	userKey := configString(n.Config, "user_key")
	apiToken := configString(n.Config, "api_token")
	if userKey == "" || apiToken == "" {
		return fmt.Errorf("user_key and api_token are required")
	}
	apiURL := configString(n.Config, "api_url")
	if apiURL == "" {
		apiURL = pushoverAPI
	}

	priority := 0
	if v, ok := n.Config["priority"].(float64); ok {
		priority = int(v)
	} else if message.Important {
		priority = 1
	}

	data := url.Values{}
	data.Set("token", apiToken)
	data.Set("user", userKey)
	data.Set("title", message.Title)
	data.Set("message", FormatMessage(message))
	data.Set("priority", strconv.Itoa(priority))
	if sound := configString(n.Config, "sound"); sound != "" {
		data.Set("sound", sound)
	}
	if device := configString(n.Config, "device"); device != "" {
		data.Set("device", device)
	}
	if message.MonitorURL != "" {
		data.Set("url", message.MonitorURL)
		data.Set("url_title", "Open target")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(req, "Pushover", nil)
}

func (p *PushoverProvider) Validate(config map[string]any) error {
	if err := requireString(config, "user_key"); err != nil {
		return err
	}
	if err := requireString(config, "api_token"); err != nil {
		return err
	}
	// Emergency priority (2) needs retry/expire parameters we do not send
	if v, ok := config["priority"].(float64); ok && (v < -2 || v > 1) {
		return fmt.Errorf("priority must be between -2 and 1")
	}
	return nil
}
