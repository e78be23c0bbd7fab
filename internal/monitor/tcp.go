package monitor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

// TCPProber checks that a TCP port accepts connections
type TCPProber struct{}

func init() {
	RegisterProber(&TCPProber{})
}

func (t *TCPProber) Name() string {
	return models.TypeTCP
}

// address builds host:port. The host may already carry a port, otherwise the
// "port" config key is used, defaulting to 80.
func (t *TCPProber) address(m *models.Monitor) string {
	if host, port, err := net.SplitHostPort(m.URL); err == nil {
		return net.JoinHostPort(host, port)
	}
	return net.JoinHostPort(m.URL, strconv.Itoa(m.ConfigInt("port", 80)))
}

func (t *TCPProber) Probe(ctx context.Context, m *models.Monitor) *Result {
	res := &Result{}
	if m.URL == "" {
		return res.fail(ErrInvalidRequest, "no host specified")
	}

	address := t.address(m)
	dialer := &net.Dialer{Timeout: m.Timeout()}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, GetNetworkForIPVersion("tcp", ipVersion(m)), address)
	elapsed := time.Since(start)
	res.ResponseTime = elapsed
	res.TCPConnect = &elapsed

	if err != nil {
		return res.fail(classifyError(err), "connection failed: %v", err)
	}
	defer conn.Close()

	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		res.ResolvedIP = host
	}
	res.Message = fmt.Sprintf("%s is open - %dms", address, elapsed.Milliseconds())
	return res
}

func (t *TCPProber) Validate(m *models.Monitor) error {
	if m.URL == "" {
		return models.NewConfigurationError("url", "host is required")
	}

	if _, ok := m.Config["port"]; ok {
		port := m.ConfigInt("port", 0)
		if port < 1 || port > 65535 {
			return models.NewConfigurationError("config.port", "must be between 1 and 65535")
		}
	}

	return nil
}
