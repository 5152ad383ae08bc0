package prober

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/client"
	"github.com/idanyas/speedpool/internal/metrics"
)

const (
	DefaultMinPingWait    = 4 * time.Second
	DefaultPerSampleWait  = 1100 * time.Millisecond
	DefaultSampleInterval = time.Second
	DefaultRequestTimeout = 100 * time.Second
	DefaultBufferSize     = 5 * 1024 * 1024
)

// Resolver turns a host name into addresses of the allowed IP family.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

type pingFunc func(ctx context.Context, host, port string, times int) ([]float64, error)

// Prober pings single hosts and runs bounded sets of HTTP transfers.
type Prober struct {
	http     *http.Client
	resolver Resolver
	dialer   *net.Dialer
	network  string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	minPingWait    time.Duration
	perSampleWait  time.Duration
	sampleInterval time.Duration
	requestTimeout time.Duration

	scratch  *ScratchBuffer
	progress *atomic.Int64

	icmp pingFunc
	tcp  pingFunc
}

type Option func(*Prober)

// WithPingWaits sets the ping race budget, max(perSample*times, min), and
// the pause between consecutive samples.
func WithPingWaits(minWait, perSample, interval time.Duration) Option {
	return func(p *Prober) {
		p.minPingWait = minWait
		p.perSampleWait = perSample
		p.sampleInterval = interval
	}
}

// WithRequestTimeout bounds every transfer from request to last byte.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Prober) { p.requestTimeout = d }
}

func WithBufferSize(size int) Option {
	return func(p *Prober) { p.scratch = NewScratchBuffer(size) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Prober) { p.metrics = m }
}

// WithProgress makes every transfer add the bytes it moves to counter as they move.
func WithProgress(counter *atomic.Int64) Option {
	return func(p *Prober) { p.progress = counter }
}

func New(c *client.Client, logger *zap.Logger, opts ...Option) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Prober{
		http:           c.HTTP,
		resolver:       c.Resolver,
		dialer:         c.Dialer,
		network:        c.Network,
		logger:         logger.With(zap.String("component", "prober")),
		minPingWait:    DefaultMinPingWait,
		perSampleWait:  DefaultPerSampleWait,
		sampleInterval: DefaultSampleInterval,
		requestTimeout: DefaultRequestTimeout,
	}
	if p.dialer == nil {
		p.dialer = &net.Dialer{Timeout: 30 * time.Second}
	}
	if p.network == "" {
		p.network = "tcp"
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.scratch == nil {
		p.scratch = NewScratchBuffer(DefaultBufferSize)
	}
	p.icmp = p.icmpPing
	p.tcp = p.tcpPing
	return p
}

func (p *Prober) addProgress(n int64) {
	if p.progress != nil && n > 0 {
		p.progress.Add(n)
	}
}
