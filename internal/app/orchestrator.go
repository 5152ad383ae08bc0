package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/data"
	"github.com/idanyas/speedpool/internal/metrics"
	"github.com/idanyas/speedpool/internal/prober"
)

// ErrNoHealthyServers means no server of a provider survived pruning and pinging.
var ErrNoHealthyServers = errors.New("no healthy servers")

// SpeedService is one speed-test provider: it lists candidate servers and
// builds transfer URLs for them.
type SpeedService interface {
	Name() string
	// RefreshPossibleServers replaces the server list wholesale.
	RefreshPossibleServers(ctx context.Context) error
	// PossibleServers returns the latest list, nil before the first refresh.
	PossibleServers() []*data.ServerResult
	// ServiceLikeableSize converts megabytes to the byte count the provider means by it.
	ServiceLikeableSize(megabytes int) int64
	// SpeedURL builds one cache-busted transfer URL. token is shared by all
	// URLs of one test run.
	SpeedURL(server *data.ServerResult, bytesPerTest int64, upload bool, token string) string
}

// Prober is what the orchestrator needs from the network layer.
type Prober interface {
	Ping(ctx context.Context, target string, times int, tcp bool) ([]float64, error)
	MeasureThroughput(ctx context.Context, urls []string, maxConcurrent int, readTimeout time.Duration, uploadBytes int64) (prober.Measurement, error)
}

type badServerEntry struct {
	server  string
	expires time.Time
}

// Orchestrator tracks server health for any number of providers and runs
// the staged throughput tests. It never quarantines on its own: callers
// decide what to do with the ServerErrors it returns.
type Orchestrator struct {
	prober  Prober
	logger  *zap.Logger
	metrics *metrics.Metrics
	policy  Policy
	now     func() time.Time

	mu  sync.Mutex
	bad map[string]badServerEntry
}

type Option func(*Orchestrator)

func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithClock replaces time.Now for quarantine expiry and stage timing.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(p Prober, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		prober: p,
		logger: logger.With(zap.String("component", "orchestrator")),
		policy: DefaultPolicy(),
		now:    time.Now,
		bad:    make(map[string]badServerEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Policy() Policy { return o.policy }
