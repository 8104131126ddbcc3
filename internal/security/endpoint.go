package security

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrBlockedEndpoint is returned for webhook targets inside the platform's
// own network.
var ErrBlockedEndpoint = errors.New("security: endpoint not allowed")

// blockedPrefixes are ranges a webhook may never reach, on top of the
// loopback, private, link-local and unspecified checks.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),  // IETF protocol assignments
	netip.MustParsePrefix("198.18.0.0/15"), // benchmarking
	netip.MustParsePrefix("fc00::/7"),      // unique local
}

// lookupHost is swapped in tests.
var lookupHost = net.LookupHost

// ValidateEndpointURL checks that an operator webhook URL is https and
// points outside the platform network, both as written and as resolved.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL", ErrBlockedEndpoint)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be https", ErrBlockedEndpoint)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedEndpoint)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("%w: host %q", ErrBlockedEndpoint, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}

	resolved, err := lookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %q", ErrBlockedEndpoint, host)
	}
	for _, s := range resolved {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if err := checkAddr(addr); err != nil {
			return fmt.Errorf("host %q: %w", host, err)
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("%w: address %s", ErrBlockedEndpoint, addr)
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("%w: address %s", ErrBlockedEndpoint, addr)
		}
	}
	return nil
}
