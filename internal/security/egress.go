// Package security guards outbound webhook traffic.
//
// A Guard refuses to connect to loopback, private, link-local (including the
// cloud metadata endpoint) and other non-routable ranges. Every address a
// host resolves to is checked before dialing, and redirects are checked the
// same way, so DNS answers mixing public and private addresses are refused.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"
)

// dnsTimeout bounds every lookup the guard performs.
const dnsTimeout = 500 * time.Millisecond

var (
	// ErrBlocked is returned when a destination resolves into a blocked range.
	ErrBlocked = errors.New("egress: destination is in a blocked network")
	// ErrDNS is returned when a destination cannot be resolved in time.
	ErrDNS = errors.New("egress: destination could not be resolved")
	// ErrTooManyRedirects is returned past the redirect limit.
	ErrTooManyRedirects = errors.New("egress: too many redirects")
)

// BlockedPrefixes are the ranges a webhook may never reach.
var BlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Option configures a Guard.
type Option func(*Guard)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) Option { return func(g *Guard) { g.resolver = r } }

// Guard validates outbound destinations.
type Guard struct {
	resolver Resolver
	blocked  []netip.Prefix
	dialer   *net.Dialer
}

// NewGuard creates a Guard over BlockedPrefixes.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		resolver: net.DefaultResolver,
		blocked:  BlockedPrefixes,
		dialer:   &net.Dialer{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Blocked reports whether addr falls in a blocked range. IPv4-mapped IPv6
// addresses are checked as IPv4.
func (g *Guard) Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range g.blocked {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// resolve returns the addresses for host, refusing the whole answer if any
// one of them is blocked.
func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if g.Blocked(addr) {
			return nil, fmt.Errorf("%w: %s", ErrBlocked, addr)
		}
		return []netip.Addr{addr}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	addrs, err := g.resolver.LookupNetIP(dnsCtx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDNS, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrDNS, host)
	}
	for _, a := range addrs {
		if g.Blocked(a) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlocked, host, a)
		}
	}
	return addrs, nil
}

// Check validates a destination URL before it is configured.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: unparseable url", ErrBlocked)
	}
	_, err = g.resolve(ctx, u.Hostname())
	return err
}

// DialContext dials the first validated address for addr.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("egress: invalid address %q: %w", addr, err)
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return g.dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect that validates every hop.
func (g *Guard) CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		_, err := g.resolve(req.Context(), req.URL.Hostname())
		return err
	}
}

// HTTPClient returns a client whose transport dials through the guard.
func (g *Guard) HTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = g.DialContext
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: g.CheckRedirect(maxRedirects),
	}
}
