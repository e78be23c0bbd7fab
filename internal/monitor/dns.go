package monitor

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

var dnsQueryTypes = []string{"A", "AAAA", "CNAME", "MX", "NS", "TXT"}

// DNSProber performs DNS query checks
type DNSProber struct{}

func init() {
	RegisterProber(&DNSProber{})
}

func (d *DNSProber) Name() string {
	return models.TypeDNS
}

// newResolver returns a pure-Go resolver honouring ip_version and, when set,
// a dedicated DNS server (host or host:port).
func newResolver(m *models.Monitor, server string) *net.Resolver {
	version := ipVersion(m)
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: m.Timeout()}
			if server != "" {
				address = server
				if _, _, err := net.SplitHostPort(server); err != nil {
					address = net.JoinHostPort(server, "53")
				}
			}
			return d.DialContext(ctx, GetNetworkForIPVersion(network, version), address)
		},
	}
}

func (d *DNSProber) Probe(ctx context.Context, m *models.Monitor) *Result {
	res := &Result{}

	hostname := m.URL
	if hostname == "" {
		return res.fail(ErrInvalidRequest, "no hostname specified")
	}

	queryType := strings.ToUpper(m.ConfigString("query_type", "A"))
	resolver := newResolver(m, m.ConfigString("dns_server", ""))

	start := time.Now()
	var (
		records []string
		err     error
	)

	switch queryType {
	case "A", "AAAA":
		network := "ip4"
		if queryType == "AAAA" {
			network = "ip6"
		}
		var ips []net.IP
		ips, err = resolver.LookupIP(ctx, network, hostname)
		for _, ip := range ips {
			records = append(records, ip.String())
		}
	case "CNAME":
		var cname string
		cname, err = resolver.LookupCNAME(ctx, hostname)
		if cname != "" {
			records = append(records, cname)
		}
	case "MX":
		var mxs []*net.MX
		mxs, err = resolver.LookupMX(ctx, hostname)
		for _, mx := range mxs {
			records = append(records, fmt.Sprintf("%s (priority: %d)", mx.Host, mx.Pref))
		}
	case "NS":
		var nss []*net.NS
		nss, err = resolver.LookupNS(ctx, hostname)
		for _, ns := range nss {
			records = append(records, ns.Host)
		}
	case "TXT":
		records, err = resolver.LookupTXT(ctx, hostname)
	default:
		return res.fail(ErrInvalidRequest, "unsupported query type: %s", queryType)
	}

	elapsed := time.Since(start)
	res.ResponseTime = elapsed
	res.DNSLookup = &elapsed

	if err != nil {
		return res.fail(classifyError(err), "DNS query failed: %v", err)
	}
	if len(records) == 0 {
		return res.fail(ErrDNS, "no %s records found", queryType)
	}
	if queryType == "A" || queryType == "AAAA" {
		res.ResolvedIP = records[0]
	}

	if expected := m.ConfigString("expected_result", ""); expected != "" {
		matched := slices.ContainsFunc(records, func(r string) bool {
			return strings.Contains(r, expected)
		})
		if !matched {
			return res.fail(ErrUnexpectedResult, "expected %q not found in: %s", expected, strings.Join(records, ", "))
		}
	}

	res.Message = fmt.Sprintf("%s query OK - %s - %dms", queryType, strings.Join(records, ", "), elapsed.Milliseconds())
	return res
}

func (d *DNSProber) Validate(m *models.Monitor) error {
	if m.URL == "" {
		return models.NewConfigurationError("url", "hostname is required")
	}

	if qt := m.ConfigString("query_type", ""); qt != "" && !slices.Contains(dnsQueryTypes, strings.ToUpper(qt)) {
		return models.NewConfigurationError("config.query_type", "must be one of: "+strings.Join(dnsQueryTypes, ", "))
	}

	return nil
}
