package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

// Provider defines the interface for all notification providers
type Provider interface {
	// Name returns the unique identifier for this provider
	Name() string

	// Send delivers message through the channel described by n
	Send(ctx context.Context, n *models.Notification, message *Message) error

	// Validate validates the provider configuration
	Validate(config map[string]any) error
}

// Message kinds, mirroring alert transitions
const (
	KindDown   = "down"
	KindUp     = "up"
	KindResend = "resend"
	KindTest   = "test"
)

// Message represents a notification message to be sent
type Message struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Kind        string `json:"kind"`
	MonitorID   int    `json:"monitor_id"`
	MonitorName string `json:"monitor_name"`
	MonitorURL  string `json:"monitor_url"`
	Status      string `json:"status"` // heartbeat status: up, degraded, down
	ErrorType   string `json:"error_type,omitempty"`
	Ping        int    `json:"ping"` // milliseconds
	Time        string `json:"time"`
	Important   bool   `json:"important"`
}

var (
	providers = make(map[string]Provider)
	mu        sync.RWMutex
)

// RegisterProvider registers a new notification provider
func RegisterProvider(provider Provider) {
	mu.Lock()
	defer mu.Unlock()
	providers[provider.Name()] = provider
}

// GetProvider returns a provider by name
func GetProvider(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	provider, ok := providers[name]
	return provider, ok
}

// ProviderNames returns the registered provider names in sorted order
func ProviderNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a notification's type and provider configuration
func Validate(n *models.Notification) error {
	provider, ok := GetProvider(n.Type)
	if !ok {
		return models.NewConfigurationError("type", fmt.Sprintf("unknown notification provider %q", n.Type))
	}
	if err := provider.Validate(n.Config); err != nil {
		return models.NewConfigurationError("config", err.Error())
	}
	return nil
}

// FormatMessage renders a plain-text body shared by the text based providers
func FormatMessage(msg *Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", statusEmoji(msg.Kind), msg.Title)
	if msg.Body != "" {
		b.WriteString(msg.Body + "\n\n")
	}
	fmt.Fprintf(&b, "Monitor: %s\n", msg.MonitorName)
	if msg.MonitorURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", msg.MonitorURL)
	}
	if msg.Ping > 0 {
		fmt.Fprintf(&b, "Response Time: %dms\n", msg.Ping)
	}
	fmt.Fprintf(&b, "Time: %s\n", msg.Time)
	return b.String()
}

func statusEmoji(kind string) string {
	switch kind {
	case KindUp:
		return "✅"
	case KindDown:
		return "❌"
	case KindResend:
		return "🔁"
	default:
		return "ℹ️"
	}
}

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

func requireString(config map[string]any, key string) error {
	if configString(config, key) == "" {
		return fmt.Errorf("%s is required", key)
	}
	return nil
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// postJSON sends payload to url and treats any non-2xx answer as a failure
func postJSON(ctx context.Context, service, method, url string, payload any, headers map[string]string) error {
	req, err := newJSONRequest(ctx, method, url, payload)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(req, service, nil)
}

// do sends req and decodes a 2xx JSON answer into out when out is non-nil
func do(req *http.Request, service string, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", service, err)
	}
	defer resp.Body.Close()
	body := io.LimitReader(resp.Body, 64<<10)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, body)
		return fmt.Errorf("%s returned status %d", service, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", service, err)
		}
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return nil
}

// newJSONRequest builds a JSON request carrying payload
func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "InfraMirror/1.0")
	return req, nil
}
