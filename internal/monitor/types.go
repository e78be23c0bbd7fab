package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

// Prober performs a single check attempt for one monitor type
type Prober interface {
	// Name returns the monitor type name (e.g., "http", "tcp", "ping")
	Name() string

	// Probe performs one attempt. Failures are reported on the Result, never
	// as a Go error. The context carries the per-attempt timeout.
	Probe(ctx context.Context, m *models.Monitor) *Result

	// Validate validates the type-specific monitor configuration
	Validate(m *models.Monitor) error
}

// Error types recorded on heartbeats
const (
	ErrTimeout            = "timeout"
	ErrCancelled          = "cancelled"
	ErrDNS                = "dns"
	ErrConnectionRefused  = "connection_refused"
	ErrConnectionReset    = "connection_reset"
	ErrNetworkUnreachable = "network_unreachable"
	ErrTLS                = "tls"
	ErrTransport          = "transport"
	ErrTooManyRedirects   = "too_many_redirects"
	ErrInvalidRequest     = "invalid_request"
	ErrStatusCode         = "status_code"
	ErrKeyword            = "keyword"
	ErrCertificate        = "certificate"
	ErrPacketLoss         = "packet_loss"
	ErrContainer          = "container"
	ErrUnexpectedResult   = "unexpected_result"
	ErrUnknownType        = "unknown_type"
)

// SubFailure is a secondary check failure observed during an otherwise
// completed probe. Whether it fails the heartbeat depends on the monitor's
// flags (ignore_tls_error, check_ssl_certificate, check_dns_resolution).
type SubFailure struct {
	Kind    string `json:"kind"` // tls, certificate, dns, keyword
	Message string `json:"message"`
}

// Result is the raw outcome of one probe attempt
type Result struct {
	// ErrorType is set when the target could not be checked at all
	ErrorType    string
	ErrorMessage string

	ResponseTime time.Duration
	Message      string

	StatusCode  int
	ContentType string
	Size        int64
	Headers     map[string]any
	BodySample  string

	DNSLookup       *time.Duration
	TCPConnect      *time.Duration
	TLSHandshake    *time.Duration
	TimeToFirstByte *time.Duration
	ResolvedIP      string

	CertValid    *bool
	CertExpiry   *time.Time
	CertIssuer   string
	CertDaysLeft *int

	PacketLoss *float64
	Jitter     *time.Duration

	SubFailures []SubFailure
}

// Failed reports whether the probe could not reach a verdict-worthy response
func (r *Result) Failed() bool {
	return r.ErrorType != ""
}

func (r *Result) fail(errType, format string, args ...any) *Result {
	r.ErrorType = errType
	r.ErrorMessage = sprintf(format, args...)
	return r
}

func (r *Result) addSubFailure(kind, format string, args ...any) {
	r.SubFailures = append(r.SubFailures, SubFailure{Kind: kind, Message: sprintf(format, args...)})
}

var (
	probersMu sync.RWMutex
	probers   = make(map[string]Prober)
)

// RegisterProber registers a prober under its name
func RegisterProber(p Prober) {
	probersMu.Lock()
	defer probersMu.Unlock()
	probers[p.Name()] = p
}

// GetProber returns a prober by monitor type
func GetProber(name string) (Prober, bool) {
	probersMu.RLock()
	defer probersMu.RUnlock()
	p, ok := probers[name]
	return p, ok
}

// ProberNames returns the registered monitor types, sorted
func ProberNames() []string {
	probersMu.RLock()
	defer probersMu.RUnlock()
	names := make([]string, 0, len(probers))
	for name := range probers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate runs the type-specific validation of a monitor
func Validate(m *models.Monitor) error {
	p, ok := GetProber(m.Type)
	if !ok {
		return models.NewConfigurationError("type", "unsupported monitor type "+m.Type)
	}
	return p.Validate(m)
}

// GetNetworkForIPVersion returns the appropriate network string for dial/lookup
// operations based on the monitor's ip_version setting (auto, ipv4, ipv6)
func GetNetworkForIPVersion(baseNetwork string, ipVersion string) string {
	suffix := ""
	switch ipVersion {
	case "ipv4":
		suffix = "4"
	case "ipv6":
		suffix = "6"
	default:
		return baseNetwork
	}

	switch baseNetwork {
	case "tcp", "udp", "ip":
		return baseNetwork + suffix
	}
	return baseNetwork
}

func ipVersion(m *models.Monitor) string {
	return m.ConfigString("ip_version", "auto")
}
