package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gwatts/rootcerts"
)

// DefaultUserAgent is sent by every request that does not set its own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:142.0) Gecko/20100101 Firefox/142.0"

// MaxConnsPerHost is the number of idle connections kept per host, enough
// for every transfer of a concurrent batch to reuse its connection.
const MaxConnsPerHost = 16

// Options controls how outgoing connections are made.
type Options struct {
	IPv4Only  bool
	IPv6Only  bool
	Interface string // interface name or source IP
	Insecure  bool
	UserAgent string
}

// Client bundles everything that talks to the network on behalf of a test run.
type Client struct {
	HTTP     *http.Client
	Resolver *Resolver
	Dialer   *net.Dialer
	Network  string // tcp, tcp4 or tcp6
}

// BrowserTransport wraps an http.Transport and adds browser-mimicking headers.
type BrowserTransport struct {
	Transport *http.Transport
	UserAgent string
}

func (t *BrowserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Header.Get("User-Agent") == "" {
		ua := t.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		clone.Header.Set("User-Agent", ua)
	}
	if clone.Header.Get("Accept") == "" {
		clone.Header.Set("Accept", "*/*")
	}
	clone.Header.Set("Accept-Language", "en-US,en;q=0.9")
	clone.Header.Set("Cache-Control", "no-cache")
	clone.Header.Set("Pragma", "no-cache")

	return t.Transport.RoundTrip(clone)
}

// New builds the HTTP client, resolver and dialer used for discovery, pings
// and transfers.
func New(opts Options) (*Client, error) {
	if opts.IPv4Only && opts.IPv6Only {
		return nil, errors.New("IPv4-only and IPv6-only cannot be combined")
	}

	localAddr, err := localAddr(opts.Interface, opts.IPv4Only, opts.IPv6Only)
	if err != nil {
		return nil, err
	}

	network := "tcp"
	ipv4Only, ipv6Only := opts.IPv4Only, opts.IPv6Only
	if localAddr != nil {
		// A bound source address pins the family.
		if localAddr.IP.To4() != nil {
			network, ipv4Only, ipv6Only = "tcp4", true, false
		} else {
			network, ipv4Only, ipv6Only = "tcp6", false, true
		}
	} else if ipv4Only {
		network = "tcp4"
	} else if ipv6Only {
		network = "tcp6"
	}

	rootCAs, err := rootPool(opts.Insecure)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if localAddr != nil {
		dialer.LocalAddr = localAddr
	}

	resolver := NewResolver(ipv4Only, ipv6Only, rootCAs, opts.Insecure)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialResolved(ctx, dialer, resolver, network, addr)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Transfers count wire bytes, so never let the transport inflate them.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
		TLSClientConfig: &tls.Config{
			RootCAs:            rootCAs,
			InsecureSkipVerify: opts.Insecure,
		},
	}

	return &Client{
		HTTP: &http.Client{
			Transport: &BrowserTransport{Transport: transport, UserAgent: opts.UserAgent},
		},
		Resolver: resolver,
		Dialer:   dialer,
		Network:  network,
	}, nil
}

func rootPool(insecure bool) (*x509.CertPool, error) {
	if insecure {
		return nil, nil
	}
	pool := rootcerts.ServerCertPool()
	if pool == nil {
		return nil, errors.New("unable to obtain a valid root CA pool")
	}
	return pool, nil
}

// dialResolved connects to addr, resolving its host with r and trying every
// usable address in turn.
func dialResolved(ctx context.Context, d *net.Dialer, r *Resolver, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address format: %w", err)
	}

	ips, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed for %s: %w", host, err)
	}

	var firstErr error
	for _, ip := range ips {
		if !familyMatches(network, ip) {
			continue
		}
		// One blackholed address must not stall the whole dial.
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := d.DialContext(dialCtx, networkFor(ip), net.JoinHostPort(ip.String(), port))
		cancel()
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		return nil, fmt.Errorf("connection failed: no %s address for %s", network, host)
	}
	return nil, fmt.Errorf("connection failed to all resolved IPs for %s:%s (first error: %w)", host, port, firstErr)
}

func networkFor(ip net.IP) string {
	if ip.To4() != nil {
		return "tcp4"
	}
	return "tcp6"
}

func familyMatches(network string, ip net.IP) bool {
	switch network {
	case "tcp4":
		return ip.To4() != nil
	case "tcp6":
		return ip.To4() == nil
	}
	return true
}

func localAddr(interfaceOrIP string, ipv4Only, ipv6Only bool) (*net.TCPAddr, error) {
	if interfaceOrIP == "" {
		return nil, nil
	}

	if ip := net.ParseIP(interfaceOrIP); ip != nil {
		isIPv4 := ip.To4() != nil
		if ipv4Only && !isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv4, but --ipv4 flag was specified", interfaceOrIP)
		}
		if ipv6Only && isIPv4 {
			return nil, fmt.Errorf("provided IP %s is not IPv6, but --ipv6 flag was specified", interfaceOrIP)
		}
		return &net.TCPAddr{IP: ip}, nil
	}

	iface, err := net.InterfaceByName(interfaceOrIP)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %q: %w", interfaceOrIP, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses for interface %q: %w", interfaceOrIP, err)
	}

	ip := pickInterfaceIP(addrs, ipv4Only, ipv6Only)
	if ip == nil {
		family := "any"
		if ipv4Only {
			family = "IPv4"
		} else if ipv6Only {
			family = "IPv6"
		}
		return nil, fmt.Errorf("no suitable %s IP address found for interface %q", family, interfaceOrIP)
	}
	return &net.TCPAddr{IP: ip}, nil
}

// pickInterfaceIP prefers a global IPv6 address, then IPv4, then link-local
// IPv6, honouring the family restrictions.
func pickInterfaceIP(addrs []net.Addr, ipv4Only, ipv6Only bool) net.IP {
	var v4, linkLocal net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsUnspecified() {
			continue
		}
		ip := ipNet.IP
		switch {
		case ip.To4() != nil:
			if ipv6Only {
				continue
			}
			if ipv4Only {
				return ip
			}
			if v4 == nil {
				v4 = ip
			}
		case ipv4Only:
			continue
		case ip.IsLinkLocalUnicast():
			if linkLocal == nil {
				linkLocal = ip
			}
		default:
			return ip
		}
	}
	if v4 != nil {
		return v4
	}
	return linkLocal
}
