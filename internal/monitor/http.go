package monitor

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

const (
	// bodySampleLimit caps the response body stored on a heartbeat
	bodySampleLimit = 1000
	// bodyReadLimit caps how much of the body is read for size and keyword checks
	bodyReadLimit = 1 << 20
)

var errTooManyRedirects = errors.New("stopped after too many redirects")

// HTTPProber implements HTTP/HTTPS monitoring
type HTTPProber struct {
	ssrf *SSRFProtection
}

func init() {
	RegisterProber(NewHTTPProber(false))
}

// NewHTTPProber creates an HTTP prober. allowPrivateIPs relaxes the SSRF checks
// applied when a monitor is validated.
func NewHTTPProber(allowPrivateIPs bool) *HTTPProber {
	return &HTTPProber{ssrf: NewSSRFProtection(allowPrivateIPs)}
}

// Name returns the monitor type name
func (h *HTTPProber) Name() string {
	return models.TypeHTTP
}

// Validate validates the HTTP monitor configuration
func (h *HTTPProber) Validate(m *models.Monitor) error {
	if !strings.HasPrefix(m.URL, "http://") && !strings.HasPrefix(m.URL, "https://") {
		return models.NewConfigurationError("url", "must start with http:// or https://")
	}

	if err := h.ssrf.ValidateURL(m.URL); err != nil {
		return models.NewConfigurationError("url", err.Error())
	}

	if len(m.Body) > 0 && !json.Valid(m.Body) {
		return models.NewConfigurationError("body", "must be a JSON document")
	}

	return nil
}

// requestTrace collects phase timings for one request
type requestTrace struct {
	start     time.Time
	dnsStart  time.Time
	connStart time.Time
	tlsStart  time.Time

	dns, connect, tlsHandshake, ttfb *time.Duration
	remoteAddr                       string
}

func since(t time.Time) *time.Duration {
	d := time.Since(t)
	return &d
}

func withTrace(ctx context.Context, t *requestTrace) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { t.dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			if !t.dnsStart.IsZero() {
				t.dns = since(t.dnsStart)
			}
		},
		ConnectStart: func(string, string) {
			if t.connStart.IsZero() {
				t.connStart = time.Now()
			}
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil && t.connect == nil {
				t.connect = since(t.connStart)
			}
		},
		TLSHandshakeStart: func() { t.tlsStart = time.Now() },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if !t.tlsStart.IsZero() {
				t.tlsHandshake = since(t.tlsStart)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn != nil {
				t.remoteAddr = info.Conn.RemoteAddr().String()
			}
		},
		GotFirstResponseByte: func() {
			if t.ttfb == nil {
				t.ttfb = since(t.start)
			}
		},
	})
}

// apply copies the collected timings onto the result without overwriting an
// explicit DNS check.
func (t *requestTrace) apply(res *Result) {
	if res.DNSLookup == nil {
		res.DNSLookup = t.dns
	}
	res.TCPConnect = t.connect
	res.TLSHandshake = t.tlsHandshake
	res.TimeToFirstByte = t.ttfb
	if t.remoteAddr != "" {
		if host, _, err := net.SplitHostPort(t.remoteAddr); err == nil {
			res.ResolvedIP = host
		}
	}
}

// Probe performs the HTTP check
func (h *HTTPProber) Probe(ctx context.Context, m *models.Monitor) *Result {
	res := &Result{}

	target, err := url.Parse(m.URL)
	if err != nil {
		return res.fail(ErrInvalidRequest, "invalid URL: %v", err)
	}

	if m.CheckDNSResolution {
		h.checkDNS(ctx, m, target.Hostname(), res)
	}

	method := m.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(m.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader(m.Body)
	}

	trace := &requestTrace{}
	req, err := http.NewRequestWithContext(withTrace(ctx, trace), method, m.URL, body)
	if err != nil {
		return res.fail(ErrInvalidRequest, "failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "InfraMirror/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range m.HeaderValues() {
		req.Header.Set(key, value)
	}

	client := h.client(m)

	trace.start = time.Now()
	resp, err := client.Do(req)
	if err != nil {
		res.ResponseTime = time.Since(trace.start)
		trace.apply(res)
		return res.fail(classifyError(err), "request failed: %v", err)
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, bodyReadLimit))
	res.ResponseTime = time.Since(trace.start)
	trace.apply(res)

	res.StatusCode = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")
	res.Size = int64(len(payload))
	if resp.ContentLength > res.Size {
		res.Size = resp.ContentLength
	}
	res.Headers = flattenHeaders(resp.Header)
	if m.IncludeResponseBody {
		res.BodySample = truncate(string(payload), bodySampleLimit)
	}

	if resp.TLS != nil {
		h.inspectCertificate(m, target.Hostname(), resp.TLS, res)
	}

	if readErr != nil {
		return res.fail(classifyError(readErr), "failed to read response body: %v", readErr)
	}

	if keyword := m.ConfigString("keyword", ""); keyword != "" {
		found := strings.Contains(string(payload), keyword)
		invert := m.ConfigBool("invert_keyword", false)
		switch {
		case invert && found:
			res.addSubFailure(ErrKeyword, "keyword %q found (inverted check)", keyword)
		case !invert && !found:
			res.addSubFailure(ErrKeyword, "keyword %q not found", keyword)
		}
	}

	res.Message = fmt.Sprintf("HTTP %d - %dms", resp.StatusCode, res.ResponseTime.Milliseconds())
	return res
}

func (h *HTTPProber) client(m *models.Monitor) *http.Client {
	dialer := &net.Dialer{Timeout: m.Timeout()}
	version := ipVersion(m)

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, GetNetworkForIPVersion(network, version), addr)
			},
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: m.IgnoreTLSError,
			},
			TLSHandshakeTimeout: m.Timeout(),
			DisableKeepAlives:   true,
		},
	}

	maxRedirects := m.MaxRedirects
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if maxRedirects == 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > maxRedirects {
			return errTooManyRedirects
		}
		return nil
	}

	return client
}

// checkDNS resolves the target explicitly, optionally against a dedicated
// server and expected address, and records a dns sub-failure on mismatch.
func (h *HTTPProber) checkDNS(ctx context.Context, m *models.Monitor, host string, res *Result) {
	if net.ParseIP(host) != nil {
		res.ResolvedIP = host
		return
	}

	resolver := newResolver(m, m.ConfigString("dns_server", ""))
	start := time.Now()
	addrs, err := resolver.LookupHost(ctx, host)
	elapsed := time.Since(start)
	res.DNSLookup = &elapsed

	if err != nil {
		res.addSubFailure(ErrDNS, "DNS resolution failed: %v", err)
		return
	}
	if len(addrs) == 0 {
		res.addSubFailure(ErrDNS, "%s resolved to no addresses", host)
		return
	}
	res.ResolvedIP = addrs[0]

	if expected := m.ConfigString("expected_ip", ""); expected != "" && !slices.Contains(addrs, expected) {
		res.addSubFailure(ErrDNS, "%s resolved to %s, expected %s", host, strings.Join(addrs, ", "), expected)
	}
}

func (h *HTTPProber) inspectCertificate(m *models.Monitor, host string, state *tls.ConnectionState, res *Result) {
	if len(state.PeerCertificates) == 0 {
		return
	}
	leaf := state.PeerCertificates[0]

	expiry := leaf.NotAfter.UTC()
	daysLeft := int(time.Until(expiry).Hours() / 24)
	res.CertExpiry = &expiry
	res.CertDaysLeft = &daysLeft
	res.CertIssuer = leaf.Issuer.CommonName

	valid := true
	if m.IgnoreTLSError {
		// The handshake skipped verification, so verify here to report it.
		intermediates := x509.NewCertPool()
		for _, c := range state.PeerCertificates[1:] {
			intermediates.AddCert(c)
		}
		_, err := leaf.Verify(x509.VerifyOptions{DNSName: host, Intermediates: intermediates})
		if err != nil {
			valid = false
			res.addSubFailure(ErrTLS, "certificate verification failed: %v", err)
		}
	}
	res.CertValid = &valid

	threshold := m.CertificateExpiryDays
	switch {
	case daysLeft < 0:
		res.addSubFailure(ErrCertificate, "certificate expired on %s", expiry.Format(time.DateOnly))
	case threshold > 0 && daysLeft < threshold:
		res.addSubFailure(ErrCertificate, "certificate expires in %d days (threshold %d)", daysLeft, threshold)
	}
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
