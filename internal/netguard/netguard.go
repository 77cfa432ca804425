// Package netguard validates outbound destinations supplied by tenants and
// dials them over a connection pinned to the address that was validated.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	neturl "net/url"
	"regexp"
	"strings"
	"time"
)

// ErrBlocked is returned for any destination that fails validation.
var ErrBlocked = errors.New("destination blocked")

const maxURLLength = 2048

var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"64:ff9b::/96",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

var internalSuffixes = []string{".local", ".internal", ".corp", ".home", ".lan", ".localhost"}

// Hostnames that some resolvers turn into addresses: bare decimal or hex.
var numericHost = regexp.MustCompile(`^(0x[0-9a-fA-F]+|\d+)$`)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// IsPrivate reports whether ip is loopback, private, link-local, CGNAT,
// unspecified, multicast or reserved for documentation. IPv4-mapped IPv6
// addresses are checked as IPv4.
func IsPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func isLoopback(ip netip.Addr) bool {
	return ip.Unmap().IsLoopback()
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Target is a validated destination together with the address to dial.
type Target struct {
	URL *neturl.URL
	IP  netip.Addr
}

func (t Target) port() string {
	if p := t.URL.Port(); p != "" {
		return p
	}
	if t.URL.Scheme == "https" {
		return "443"
	}
	return "80"
}

// Guard checks and dials tenant-supplied URLs.
type Guard struct {
	Resolver Resolver
	Timeout  time.Duration
	// AllowLoopback admits loopback destinations. Local development and tests only.
	AllowLoopback bool
}

func New(timeout time.Duration, allowLoopback bool) *Guard {
	return &Guard{Resolver: net.DefaultResolver, Timeout: timeout, AllowLoopback: allowLoopback}
}

func blocked(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBlocked, fmt.Sprintf(format, args...))
}

// ParseURL performs the checks that need no DNS: scheme, host presence,
// length and internal-looking hostnames.
func (g *Guard) ParseURL(raw string) (*neturl.URL, error) {
	if raw == "" {
		return nil, blocked("url is required")
	}
	if len(raw) > maxURLLength {
		return nil, blocked("url exceeds %d characters", maxURLLength)
	}
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, blocked("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, blocked("unsupported scheme: %s", u.Scheme)
	}
	if u.User != nil {
		return nil, blocked("credentials in url are not allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, blocked("missing host")
	}
	if host == "localhost" {
		if g.AllowLoopback {
			return u, nil
		}
		return nil, blocked("internal host %s", host)
	}
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, blocked("internal host %s", host)
		}
	}
	if numericHost.MatchString(host) {
		return nil, blocked("numeric host %s", host)
	}
	return u, nil
}

func (g *Guard) allowed(ip netip.Addr) bool {
	if g.AllowLoopback && isLoopback(ip) {
		return true
	}
	return !IsPrivate(ip)
}

// Check validates raw and resolves it. Every resolved address must be public;
// the first one is returned as the address to dial.
func (g *Guard) Check(ctx context.Context, raw string) (Target, error) {
	u, err := g.ParseURL(raw)
	if err != nil {
		return Target{}, err
	}
	host := u.Hostname()

	if ip, err := netip.ParseAddr(host); err == nil {
		if !g.allowed(ip) {
			return Target{}, blocked("disallowed address %s", ip)
		}
		return Target{URL: u, IP: ip.Unmap()}, nil
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return Target{}, blocked("dns lookup failed: %v", err)
	}
	if len(addrs) == 0 {
		return Target{}, blocked("no addresses for %s", host)
	}

	var selected netip.Addr
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return Target{}, blocked("unparseable address for %s", host)
		}
		if !g.allowed(ip) {
			return Target{}, blocked("%s resolves to disallowed address %s", host, ip.Unmap())
		}
		if !selected.IsValid() {
			selected = ip.Unmap()
		}
	}
	return Target{URL: u, IP: selected}, nil
}

// Client returns an HTTP client whose every connection goes to t.IP. TLS
// still verifies against the original hostname. Redirects are not followed.
func (g *Guard) Client(t Target) *http.Client {
	addr := net.JoinHostPort(t.IP.String(), t.port())
	dialer := &net.Dialer{Timeout: g.Timeout}
	transport := &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSHandshakeTimeout:   g.Timeout,
		ResponseHeaderTimeout: g.Timeout,
		DisableKeepAlives:     true,
	}
	return &http.Client{
		Timeout:   g.Timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Post sends body to the validated target over a pinned connection.
func (g *Guard) Post(ctx context.Context, t Target, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return g.Client(t).Do(req)
}
