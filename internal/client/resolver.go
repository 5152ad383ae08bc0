package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

var errNoAnswer = errors.New("no usable IPs in answer")

// DoHServer is a DNS-over-HTTPS endpoint reached by address, not by name.
type DoHServer struct {
	Address string
	SNI     string
	IPv4    bool
}

var defaultDoHServers = []DoHServer{
	{"1.1.1.1:443", "cloudflare-dns.com", true},
	{"1.0.0.1:443", "cloudflare-dns.com", true},
	{"8.8.8.8:443", "dns.google", true},
	{"8.8.4.4:443", "dns.google", true},
	{"9.9.9.9:443", "dns.quad9.net", true},
	{"[2606:4700:4700::1111]:443", "cloudflare-dns.com", false},
	{"[2606:4700:4700::1001]:443", "cloudflare-dns.com", false},
	{"[2001:4860:4860::8888]:443", "dns.google", false},
	{"[2001:4860:4860::8844]:443", "dns.google", false},
	{"[2620:fe::fe]:443", "dns.quad9.net", false},
}

var defaultDNSServers = []string{
	"1.1.1.1:53",
	"8.8.8.8:53",
	"9.9.9.9:53",
	"[2606:4700:4700::1111]:53",
}

// Resolver looks names up over DoH first, then the system resolver, then
// plain UDP DNS. Broken or hijacked local DNS is common on the networks this
// tool gets pointed at.
type Resolver struct {
	IPv4Only   bool
	IPv6Only   bool
	DoHServers []DoHServer
	DNSServers []string
	// SkipDoH and SkipSystem disable the first two stages.
	SkipDoH    bool
	SkipSystem bool
	Timeout    time.Duration
	// CacheTTL keeps answers for repeated dials of the same host. Zero disables it.
	CacheTTL time.Duration

	rootCAs  *x509.CertPool
	insecure bool

	mu    sync.Mutex
	cache map[string]cachedAnswer
}

type cachedAnswer struct {
	ips     []net.IP
	expires time.Time
}

func NewResolver(ipv4Only, ipv6Only bool, rootCAs *x509.CertPool, insecure bool) *Resolver {
	return &Resolver{
		IPv4Only:   ipv4Only,
		IPv6Only:   ipv6Only,
		DoHServers: defaultDoHServers,
		DNSServers: defaultDNSServers,
		Timeout:    5 * time.Second,
		CacheTTL:   5 * time.Minute,
		rootCAs:    rootCAs,
		insecure:   insecure,
	}
}

// Resolve returns the usable addresses of host. IP literals are returned as is.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if !r.allowed(ip, true) {
			return nil, fmt.Errorf("address %s does not match the requested IP family", host)
		}
		return []net.IP{ip}, nil
	}

	if ips, ok := r.cached(host); ok {
		return ips, nil
	}
	ips, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	r.remember(host, ips)
	return ips, nil
}

func (r *Resolver) cached(host string) ([]net.IP, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.cache[host]
	if !ok || !time.Now().Before(a.expires) {
		return nil, false
	}
	return a.ips, true
}

func (r *Resolver) remember(host string, ips []net.IP) {
	if r.CacheTTL <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = make(map[string]cachedAnswer)
	}
	r.cache[host] = cachedAnswer{ips: ips, expires: time.Now().Add(r.CacheTTL)}
}

func (r *Resolver) lookup(ctx context.Context, host string) ([]net.IP, error) {
	var errs []error
	if !r.SkipDoH {
		ips, err := r.viaDoH(ctx, host)
		if err == nil {
			return ips, nil
		}
		errs = append(errs, fmt.Errorf("doH failed: %w", err))
	}
	if !r.SkipSystem {
		ips, err := r.viaSystem(ctx, host)
		if err == nil {
			return ips, nil
		}
		errs = append(errs, fmt.Errorf("system DNS failed: %w", err))
	}
	ips, err := r.viaDirect(ctx, host)
	if err == nil {
		return ips, nil
	}
	errs = append(errs, fmt.Errorf("direct DNS failed: %w", err))

	return nil, fmt.Errorf("all resolution methods failed for %s: %w", host, errors.Join(errs...))
}

func (r *Resolver) queryTypes() []uint16 {
	switch {
	case r.IPv4Only:
		return []uint16{dns.TypeA}
	case r.IPv6Only:
		return []uint16{dns.TypeAAAA}
	}
	return []uint16{dns.TypeA, dns.TypeAAAA}
}

// allowed reports whether ip fits the family restriction. Loopback is only
// acceptable when the caller asked for it literally.
func (r *Resolver) allowed(ip net.IP, literal bool) bool {
	if ip.IsUnspecified() || (!literal && ip.IsLoopback()) {
		return false
	}
	isIPv4 := ip.To4() != nil
	if r.IPv4Only && !isIPv4 {
		return false
	}
	if r.IPv6Only && isIPv4 {
		return false
	}
	return true
}

// collect extracts the addresses of the requested type from an answer.
func (r *Resolver) collect(msg *dns.Msg, qtype uint16) []net.IP {
	var ips []net.IP
	for _, rr := range msg.Answer {
		var ip net.IP
		switch a := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ip = a.A
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ip = a.AAAA
			}
		}
		if ip != nil && r.allowed(ip, false) {
			ips = append(ips, ip)
		}
	}
	return ips
}

func (r *Resolver) viaSystem(ctx context.Context, host string) ([]net.IP, error) {
	var resolver net.Resolver
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		if r.allowed(a.IP, false) {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, errNoAnswer
	}
	return ips, nil
}

func (r *Resolver) viaDoH(ctx context.Context, host string) ([]net.IP, error) {
	var servers []DoHServer
	for _, s := range r.DoHServers {
		if (r.IPv4Only && !s.IPv4) || (r.IPv6Only && s.IPv4) {
			continue
		}
		servers = append(servers, s)
	}
	rand.Shuffle(len(servers), func(i, j int) { servers[i], servers[j] = servers[j], servers[i] })

	var errs []error
	for _, qtype := range r.queryTypes() {
		packed, err := question(host, qtype).Pack()
		if err != nil {
			return nil, fmt.Errorf("packing DNS query: %w", err)
		}
		ips, err := firstAnswer(ctx, len(servers), func(ctx context.Context, i int) ([]net.IP, error) {
			return r.exchangeDoH(ctx, servers[i], packed, qtype)
		})
		if len(ips) > 0 {
			return ips, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, errNoAnswer
}

func (r *Resolver) exchangeDoH(ctx context.Context, server DoHServer, packed []byte, qtype uint16) ([]net.IP, error) {
	network := "tcp4"
	if !server.IPv4 {
		network = "tcp6"
	}
	dialer := &net.Dialer{Timeout: r.Timeout}
	client := &http.Client{
		Timeout: 2 * r.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName:         server.SNI,
				RootCAs:            r.rootCAs,
				InsecureSkipVerify: r.insecure,
			},
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, server.Address)
			},
			DisableKeepAlives:   true,
			ForceAttemptHTTP2:   true,
			TLSHandshakeTimeout: r.Timeout,
		},
	}

	url := fmt.Sprintf("https://%s/dns-query?dns=%s", server.SNI, base64.RawURLEncoding.EncodeToString(packed))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-message")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s answered HTTP %d", server.SNI, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpacking DoH answer from %s: %w", server.SNI, err)
	}
	return r.collect(msg, qtype), nil
}

func (r *Resolver) viaDirect(ctx context.Context, host string) ([]net.IP, error) {
	servers := make([]string, 0, len(r.DNSServers))
	for _, s := range r.DNSServers {
		isIPv4 := !strings.HasPrefix(s, "[")
		if (r.IPv4Only && !isIPv4) || (r.IPv6Only && isIPv4) {
			continue
		}
		servers = append(servers, s)
	}
	rand.Shuffle(len(servers), func(i, j int) { servers[i], servers[j] = servers[j], servers[i] })

	client := &dns.Client{Net: "udp", Timeout: r.Timeout}

	var errs []error
	for _, qtype := range r.queryTypes() {
		msg := question(host, qtype)
		ips, err := firstAnswer(ctx, len(servers), func(ctx context.Context, i int) ([]net.IP, error) {
			resp, _, err := client.ExchangeContext(ctx, msg.Copy(), servers[i])
			if err != nil {
				return nil, err
			}
			if resp.Rcode != dns.RcodeSuccess {
				return nil, fmt.Errorf("%s answered %s", servers[i], dns.RcodeToString[resp.Rcode])
			}
			return r.collect(resp, qtype), nil
		})
		if len(ips) > 0 {
			return ips, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, errNoAnswer
}

func question(host string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true
	return m
}

// firstAnswer runs n queries concurrently and returns the first non-empty
// answer, cancelling the rest.
func firstAnswer(ctx context.Context, n int, query func(context.Context, int) ([]net.IP, error)) ([]net.IP, error) {
	if n == 0 {
		return nil, errors.New("no servers to query")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type answer struct {
		ips []net.IP
		err error
	}
	answers := make(chan answer, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ips, err := query(ctx, i)
			answers <- answer{ips, err}
		}(i)
	}

	var errs []error
	for i := 0; i < n; i++ {
		a := <-answers
		if len(a.ips) > 0 {
			return a.ips, nil
		}
		if a.err != nil {
			errs = append(errs, a.err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, errNoAnswer
}
