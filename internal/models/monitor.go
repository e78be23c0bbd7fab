package models

import (
	"time"

	"gorm.io/datatypes"
)

// Monitor types
const (
	TypeHTTP   = "http"
	TypePing   = "ping"
	TypeTCP    = "tcp"
	TypeDNS    = "dns"
	TypeDocker = "docker"
)

// Monitor represents a monitor configuration
type Monitor struct {
	ID     int    `json:"id" gorm:"primaryKey;autoIncrement"`
	Name   string `json:"name" gorm:"not null" validate:"required,max=255"`
	Type   string `json:"type" gorm:"not null;index" validate:"required,oneof=http ping tcp dns docker"`
	Method string `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	URL    string `json:"url" gorm:"not null" validate:"required,max=2048"`

	Headers datatypes.JSONMap `json:"headers,omitempty"`
	Body    datatypes.JSON    `json:"body,omitempty"`

	IntervalSeconds   int `json:"interval_seconds" gorm:"not null" validate:"gte=1,lte=86400"`
	TimeoutSeconds    int `json:"timeout_seconds" gorm:"not null" validate:"gte=1,lte=300"`
	RetryCount        int `json:"retry_count" validate:"gte=0,lte=10"`
	RetryDelaySeconds int `json:"retry_delay_seconds" validate:"gte=0,lte=3600"`

	ResponseTimeWarningMs  int     `json:"response_time_warning_ms" validate:"gte=0"`
	ResponseTimeCriticalMs int     `json:"response_time_critical_ms" validate:"gte=0"`
	UptimeWarningPercent   float64 `json:"uptime_warning_percent" validate:"gte=0,lte=100"`
	UptimeCriticalPercent  float64 `json:"uptime_critical_percent" validate:"gte=0,lte=100"`

	MaxRedirects        int    `json:"max_redirects" validate:"gte=0,lte=30"`
	ExpectedStatusCodes string `json:"expected_status_codes" validate:"statuscodes"`

	Enabled  bool `json:"enabled" gorm:"index"`
	ParentID *int `json:"parent_id,omitempty" gorm:"index" validate:"omitempty,gte=1"`

	IgnoreTLSError        bool `json:"ignore_tls_error"`
	CheckSSLCertificate   bool `json:"check_ssl_certificate"`
	CertificateExpiryDays int  `json:"certificate_expiry_days" validate:"gte=0,lte=365"`
	CheckDNSResolution    bool `json:"check_dns_resolution"`
	UpsideDownMode        bool `json:"upside_down_mode"`
	IncludeResponseBody   bool `json:"include_response_body"`

	// ResendNotificationCount re-notifies every N failures while down. 0 disables resending.
	ResendNotificationCount int `json:"resend_notification_count" validate:"gte=0"`
	// Zero thresholds fall back to the engine defaults.
	FailureThreshold  int `json:"failure_threshold" validate:"gte=0,lte=100"`
	RecoveryThreshold int `json:"recovery_threshold" validate:"gte=0,lte=100"`

	NotificationsConfigured bool `json:"notifications_configured"`

	// Type-specific settings: port, packet_count, packet_size, query_type,
	// dns_server, expected_result, docker_host, keyword, invert_keyword.
	Config datatypes.JSONMap `json:"config,omitempty"`

	Description string    `json:"description,omitempty"`
	Tags        string    `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Monitor
func (Monitor) TableName() string {
	return "monitors"
}

// NewMonitor returns a monitor populated with defaults. Request bodies are
// decoded on top of it so omitted fields keep these values.
func NewMonitor() Monitor {
	return Monitor{
		Method:                "GET",
		IntervalSeconds:       60,
		TimeoutSeconds:        30,
		RetryCount:            0,
		RetryDelaySeconds:     5,
		MaxRedirects:          10,
		ExpectedStatusCodes:   "200-299",
		Enabled:               true,
		CertificateExpiryDays: 14,
	}
}

// Interval returns the scheduling interval
func (m *Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Timeout returns the per-attempt timeout
func (m *Monitor) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// RetryDelay returns the wait between attempts
func (m *Monitor) RetryDelay() time.Duration {
	return time.Duration(m.RetryDelaySeconds) * time.Second
}

// ConfigString reads a string setting from Config
func (m *Monitor) ConfigString(key, fallback string) string {
	if m.Config == nil {
		return fallback
	}
	if val, ok := m.Config[key].(string); ok && val != "" {
		return val
	}
	return fallback
}

// ConfigInt reads a numeric setting from Config. JSON numbers decode as float64.
func (m *Monitor) ConfigInt(key string, fallback int) int {
	if m.Config == nil {
		return fallback
	}
	switch val := m.Config[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	}
	return fallback
}

// ConfigBool reads a boolean setting from Config
func (m *Monitor) ConfigBool(key string, fallback bool) bool {
	if m.Config == nil {
		return fallback
	}
	if val, ok := m.Config[key].(bool); ok {
		return val
	}
	return fallback
}

// HeaderValues returns Headers as a flat string map, skipping non-string values
func (m *Monitor) HeaderValues() map[string]string {
	result := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
