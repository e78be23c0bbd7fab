package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fuomag9/inframirror/internal/models"
)

const pagerDutyEventsAPI = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyProvider sends PagerDuty Events API v2 notifications. Down and
// resend messages trigger an incident, recovery resolves it; both share a
// per-monitor dedup key.
type PagerDutyProvider struct{}

func init() {
	RegisterProvider(&PagerDutyProvider{})
}

func (p *PagerDutyProvider) Name() string {
	return "pagerduty"
}

func (p *PagerDutyProvider) Send(ctx context.Context, n *models.Notification, message *Message) error {
	integrationKey := configString(n.Config, "integration_key")
	if integrationKey == "" {
		return fmt.Errorf("integration_key is required")
	}
	eventsURL := configString(n.Config, "events_url")
	if eventsURL == "" {
		eventsURL = pagerDutyEventsAPI
	}

	severity := configString(n.Config, "severity")
	if severity == "" {
		severity = "info"
		if message.Important {
			severity = "critical"
		}
	}

	action := "trigger"
	if message.Kind == KindUp {
		action = "resolve"
	}

	details := map[string]any{
		"monitor": message.MonitorName,
		"status":  message.Status,
		"message": message.Body,
		"time":    message.Time,
	}
	if message.Ping > 0 {
		details["response_time_ms"] = message.Ping
	}
	if message.ErrorType != "" {
		details["error_type"] = message.ErrorType
	}
	if message.MonitorURL != "" {
		details["url"] = message.MonitorURL
	}

	payload := map[string]any{
		"routing_key":  integrationKey,
		"event_action": action,
		"dedup_key":    fmt.Sprintf("inframirror-monitor-%d", message.MonitorID),
		"payload": map[string]any{
			"summary":        message.Title,
			"source":         "InfraMirror",
			"severity":       severity,
			"custom_details": details,
		},
	}
	req, err := newJSONRequest(ctx, http.MethodPost, eventsURL, payload)
	if err != nil {
		return err
	}

	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := do(req, "PagerDuty", &result); err != nil {
		return err
	}
	if result.Status != "success" {
		return fmt.Errorf("PagerDuty API error: %s", result.Message)
	}
	return nil
}

func (p *PagerDutyProvider) Validate(config map[string]any) error {
	if err := requireString(config, "integration_key"); err != nil {
		return err
	}
	switch configString(config, "severity") {
	case "", "critical", "error", "warning", "info":
		return nil
	default:
		return fmt.Errorf("severity must be critical, error, warning or info")
	}
}
