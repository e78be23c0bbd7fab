package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fuomag9/inframirror/internal/models"
)

// WebhookProvider posts the message as JSON to an arbitrary endpoint
type WebhookProvider struct{}

func init() {
	RegisterProvider(&WebhookProvider{})
}

func (w *WebhookProvider) Name() string {
	return "webhook"
}

func (w *WebhookProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	url := configString(n.Config, "webhook_url")
	if url == "" {
		return fmt.Errorf("webhook_url is required")
	}

	method := strings.ToUpper(configString(n.Config, "method"))
	if method == "" {
		method = http.MethodPost
	}

	headers := map[string]string{}
	if custom, ok := n.Config["headers"].(map[string]any); ok {
		for key, value := range custom {
			if s, ok := value.(string); ok {
				headers[key] = s
			}
		}
	}
	if ct := configString(n.Config, "content_type"); ct != "" {
		headers["Content-Type"] = ct
	}

	return postJSON(ctx, "webhook", method, url, message, headers)
}

func (w *WebhookProvider) Validate(config map[string]any) error {
	if err := requireString(config, "webhook_url"); err != nil {
		return err
	}
	switch strings.ToUpper(configString(config, "method")) {
	case "", http.MethodPost, http.MethodPut, http.MethodPatch:
		return nil
	default:
		return fmt.Errorf("method must be POST, PUT or PATCH")
	}
}
