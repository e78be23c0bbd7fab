package monitor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// metadataHosts are cloud metadata endpoints that are never probed
var metadataHosts = []string{
	"169.254.169.254",
	"169.254.170.2",
	"fd00:ec2::254",
	"metadata.google.internal",
}

var loopbackHosts = []string{"localhost", "localhost.localdomain"}

// SSRFProtection rejects monitor targets that point at internal infrastructure
type SSRFProtection struct {
	allowPrivateIPs bool
	lookup          func(ctx context.Context, host string) ([]netip.Addr, error)
}

// NewSSRFProtection creates a target guard. With allowPrivateIPs, loopback and
// RFC 1918 targets are accepted; metadata endpoints are always blocked.
func NewSSRFProtection(allowPrivateIPs bool) *SSRFProtection {
	return &SSRFProtection{
		allowPrivateIPs: allowPrivateIPs,
		lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		},
	}
}

// ValidateURL checks the scheme and host of an HTTP target
func (s *SSRFProtection) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("only http and https schemes are allowed")
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	return s.ValidateHost(parsed.Hostname())
}

// ValidateHost resolves host and checks every address it maps to
func (s *SSRFProtection) ValidateHost(host string) error {
	host = strings.ToLower(strings.Trim(host, "[]"))

	for _, blocked := range metadataHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return fmt.Errorf("access to metadata endpoints is not allowed")
		}
	}
	for _, lo := range loopbackHosts {
		if host == lo && !s.allowPrivateIPs {
			return fmt.Errorf("access to this hostname is not allowed")
		}
	}

	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		addrs, err = s.lookup(ctx, host)
		if err != nil {
			return fmt.Errorf("failed to resolve hostname: %w", err)
		}
		if len(addrs) == 0 {
			return fmt.Errorf("hostname does not resolve to any IP address")
		}
	}

	for _, addr := range addrs {
		if err := s.checkAddr(addr.Unmap()); err != nil {
			return fmt.Errorf("IP address %s is not allowed: %w", addr, err)
		}
	}
	return nil
}

func (s *SSRFProtection) checkAddr(addr netip.Addr) error {
	for _, blocked := range metadataHosts {
		if b, err := netip.ParseAddr(blocked); err == nil && b == addr {
			return fmt.Errorf("metadata endpoint")
		}
	}
	if s.allowPrivateIPs {
		return nil
	}

	switch {
	case addr.IsLoopback():
		return fmt.Errorf("loopback address")
	case addr.IsPrivate():
		return fmt.Errorf("private address")
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address")
	case addr.IsMulticast(), addr.IsInterfaceLocalMulticast():
		return fmt.Errorf("multicast address")
	case addr.IsUnspecified():
		return fmt.Errorf("unspecified address")
	}
	return nil
}
