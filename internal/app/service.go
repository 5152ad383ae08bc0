package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/data"
	"github.com/idanyas/speedpool/internal/prober"
)

type TestOptions struct {
	Upload           bool
	MaxServers       int
	MaxTests         int
	MaxConcurrent    int
	MegabytesPerTest int
	SkipPingRefresh  bool
	// ThrowOnServerError returns the first batch of server errors as the
	// error instead of collecting them in the result.
	ThrowOnServerError bool
}

// TestService runs one throughput test of svc. Failed transfers are mapped
// back to their servers and collected in the result; ErrNoHealthyServers and
// context errors are always returned as errors.
func (o *Orchestrator) TestService(ctx context.Context, svc SpeedService, opts TestOptions) (*data.TestResult, error) {
	if len(o.NonBannedServers(svc)) == 0 {
		if err := svc.RefreshPossibleServers(ctx); err != nil {
			return nil, fmt.Errorf("failed to refresh %s servers: %w", svc.Name(), err)
		}
	}

	result := &data.TestResult{}
	var collected data.ServerErrors

	if !opts.SkipPingRefresh {
		pings, err := o.RefreshServerPings(ctx, svc, o.policy.PingTimes)
		if err != nil {
			return nil, err
		}
		if len(pings.ServerErrors) > 0 && opts.ThrowOnServerError {
			return nil, pings.ServerErrors
		}
		collected = append(collected, pings.ServerErrors...)
	}

	pool := o.NonBannedServers(svc)
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: %s has no servers to test", ErrNoHealthyServers, svc.Name())
	}
	result.MinPing, result.MaxPing = pingRange(pinged(pool))

	bytesPerTest := svc.ServiceLikeableSize(opts.MegabytesPerTest)
	urls := o.SpeedURLs(svc, pool, opts.MaxServers, opts.MaxTests, bytesPerTest, opts.Upload)
	targets := make([]string, len(urls))
	for i, u := range urls {
		targets[i] = u.URL
	}

	var uploadBytes int64
	direction := "download"
	if opts.Upload {
		uploadBytes = bytesPerTest
		direction = "upload"
	}

	m, err := o.prober.MeasureThroughput(ctx, targets, opts.MaxConcurrent, o.policy.TransferTimeout, uploadBytes)
	if err != nil {
		return nil, fmt.Errorf("%s %s test failed: %w", svc.Name(), direction, err)
	}
	result.BytesPerSecond = m.BytesPerSecond
	o.metrics.Throughput(svc.Name(), direction, m.BytesPerSecond)

	var failed data.ServerErrors
	for _, f := range m.Failures {
		var te *prober.TransferError
		if !errors.As(f, &te) {
			return nil, fmt.Errorf("unexpected transfer failure %T: %w", f, f)
		}
		failed = append(failed, &data.ServerError{Server: serverFor(te.URL, urls), Err: te})
	}
	if len(failed) > 0 && opts.ThrowOnServerError {
		return nil, failed
	}
	collected = append(collected, failed...)
	if len(collected) > 0 {
		result.ServerErrors = collected
	}

	o.logger.Debug("service test done",
		zap.String("provider", svc.Name()),
		zap.String("direction", direction),
		zap.Int("urls", len(urls)),
		zap.Int64("bytes_per_second", m.BytesPerSecond),
		zap.Int("failures", len(failed)))
	return result, nil
}

func serverFor(url string, urls []data.ServerURL) string {
	for _, u := range urls {
		if u.URL == url {
			return u.Server
		}
	}
	return ""
}

func pinged(servers []*data.ServerResult) []*data.ServerResult {
	out := make([]*data.ServerResult, 0, len(servers))
	for _, s := range servers {
		if s.PingChecks > 0 {
			out = append(out, s)
		}
	}
	return out
}
