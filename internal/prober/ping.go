package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type pingOutcome struct {
	samples []float64
	err     error
}

// Ping measures the round trip to the host of target times times, in
// milliseconds. target may be a bare host or a URL; tcp selects a TCP
// connect probe on the URL port instead of ICMP echo. The whole sequence
// races against max(perSampleWait*times, minPingWait); a probe that loses
// keeps running in the background and its outcome is only logged.
func (p *Prober) Ping(ctx context.Context, target string, times int, tcp bool) ([]float64, error) {
	method, probe := "icmp", p.icmp
	if tcp {
		method, probe = "tcp", p.tcp
	}
	if times <= 0 {
		return nil, &PingError{Target: target, Method: method, Err: errors.New("times must be a positive number")}
	}

	host, port, err := pingTarget(target)
	if err != nil {
		return nil, &PingError{Target: target, Method: method, Err: err}
	}

	wait := time.Duration(times) * p.perSampleWait
	if wait < p.minPingWait {
		wait = p.minPingWait
	}

	done := make(chan pingOutcome, 1)
	go func() {
		samples, err := probe(ctx, host, port, times)
		done <- pingOutcome{samples: samples, err: err}
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			p.metrics.PingFailed(method)
			return nil, &PingError{Target: host, Method: method, Err: out.err}
		}
		for _, s := range out.samples {
			p.metrics.PingSample(method, s)
		}
		return out.samples, nil
	case <-timer.C:
		p.drainLate(host, method, done)
		p.metrics.PingFailed(method)
		return nil, &PingError{Target: host, Method: method, Err: fmt.Errorf("%w after %v", ErrPingTimeout, wait)}
	case <-ctx.Done():
		p.drainLate(host, method, done)
		return nil, &PingError{Target: host, Method: method, Err: ctx.Err()}
	}
}

func (p *Prober) drainLate(host, method string, done <-chan pingOutcome) {
	go func() {
		out := <-done
		if out.err != nil {
			p.logger.Debug("late ping failure", zap.String("host", host), zap.String("method", method), zap.Error(out.err))
			return
		}
		p.logger.Debug("late ping finished", zap.String("host", host), zap.String("method", method), zap.Int("samples", len(out.samples)))
	}()
}

// pingTarget extracts host and port, assuming https for bare hosts.
func pingTarget(target string) (string, string, error) {
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("invalid ping target: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("invalid ping target %q: missing host", target)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return host, port, nil
}

func (p *Prober) resolveOne(ctx context.Context, host string) (net.IP, error) {
	ips, err := p.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return ips[0], nil
}

func (p *Prober) pacer() *rate.Limiter {
	if p.sampleInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.sampleInterval), 1)
}

func (p *Prober) tcpPing(ctx context.Context, host, port string, times int) ([]float64, error) {
	ip, err := p.resolveOne(ctx, host)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(ip.String(), port)
	limiter := p.pacer()

	samples := make([]float64, 0, times)
	for i := 0; i < times; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		conn, err := p.dialer.DialContext(ctx, p.network, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		samples = append(samples, millisSince(start))
		conn.Close()
	}
	return samples, nil
}

func millisSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
