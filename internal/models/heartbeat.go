package models

import (
	"time"

	"gorm.io/datatypes"
)

// Heartbeat status values
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Heartbeat severity values
const (
	SeverityOK       = "ok"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Heartbeat is the immutable result of one probe execution, after retries.
// Rows are only ever inserted, and removed by the retention job.
type Heartbeat struct {
	ID         int       `json:"id" gorm:"primaryKey;autoIncrement"`
	MonitorID  int       `json:"monitor_id" gorm:"not null;index:idx_heartbeats_monitor_time,priority:1"`
	ExecutedAt time.Time `json:"executed_at" gorm:"not null;index:idx_heartbeats_monitor_time,priority:2;index:idx_heartbeats_time"`

	Success  bool   `json:"success"`
	Status   string `json:"status" gorm:"not null;size:16"`
	Severity string `json:"severity" gorm:"not null;size:16"`
	Attempts int    `json:"attempts"`

	ResponseTimeMs      int    `json:"response_time_ms"`
	ResponseSizeBytes   int64  `json:"response_size_bytes,omitempty"`
	ResponseStatusCode  *int   `json:"response_status_code,omitempty"`
	ResponseContentType string `json:"response_content_type,omitempty"`

	DNSLookupMs       *int   `json:"dns_lookup_ms,omitempty"`
	DNSResolvedIP     string `json:"dns_resolved_ip,omitempty"`
	TCPConnectMs      *int   `json:"tcp_connect_ms,omitempty"`
	TLSHandshakeMs    *int   `json:"tls_handshake_ms,omitempty"`
	TimeToFirstByteMs *int   `json:"time_to_first_byte_ms,omitempty"`

	SSLCertificateValid  *bool      `json:"ssl_certificate_valid,omitempty"`
	SSLCertificateExpiry *time.Time `json:"ssl_certificate_expiry,omitempty"`
	SSLCertificateIssuer string     `json:"ssl_certificate_issuer,omitempty"`
	SSLDaysUntilExpiry   *int       `json:"ssl_days_until_expiry,omitempty"`

	// Thresholds in effect when the heartbeat was classified.
	WarningThresholdMs  int `json:"warning_threshold_ms,omitempty"`
	CriticalThresholdMs int `json:"critical_threshold_ms,omitempty"`

	ErrorType    string `json:"error_type,omitempty" gorm:"size:64;index"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`
	Message      string `json:"message,omitempty" gorm:"type:text"`

	RawResponseHeaders datatypes.JSONMap `json:"raw_response_headers,omitempty"`
	RawResponseBody    string            `json:"raw_response_body,omitempty" gorm:"type:text"`

	PacketLoss *float64 `json:"packet_loss,omitempty"`
	JitterMs   *float64 `json:"jitter_ms,omitempty"`
}

// TableName specifies the table name for Heartbeat
func (Heartbeat) TableName() string {
	return "heartbeats"
}
