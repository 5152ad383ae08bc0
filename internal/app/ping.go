package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/idanyas/speedpool/internal/data"
)

// RefreshServerPings re-measures the latency of every non-banned server of
// svc from scratch, times samples each, all servers in parallel. It fails
// with ErrNoHealthyServers when no server is left afterwards.
func (o *Orchestrator) RefreshServerPings(ctx context.Context, svc SpeedService, times int) (*data.TestResult, error) {
	if times <= 0 {
		times = o.policy.PingTimes
	}
	if svc.PossibleServers() == nil {
		if err := svc.RefreshPossibleServers(ctx); err != nil {
			return nil, fmt.Errorf("failed to refresh %s servers: %w", svc.Name(), err)
		}
	}

	pool := o.NonBannedServers(svc)
	started := len(pool)
	for _, s := range pool {
		s.PingChecks, s.PingAvg = 0, 0
	}

	// Each goroutine owns exactly one server's accumulator.
	failures := make([]*data.ServerError, len(pool))
	var g errgroup.Group
	for i, s := range pool {
		g.Go(func() error {
			failures[i] = o.UpdateServerPing(ctx, s, times)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	survivors := o.NonBannedServers(svc)
	if len(survivors) == 0 {
		return nil, fmt.Errorf("%w: none of %s's servers left after the ping test, started with %d",
			ErrNoHealthyServers, svc.Name(), started)
	}

	result := &data.TestResult{}
	result.MinPing, result.MaxPing = pingRange(survivors)
	for _, f := range failures {
		if f != nil {
			result.ServerErrors = append(result.ServerErrors, f)
		}
	}

	o.logger.Debug("ping refresh done",
		zap.String("provider", svc.Name()),
		zap.Int("started", started),
		zap.Int("healthy", len(survivors)),
		zap.Float64("min_ms", result.MinPing),
		zap.Float64("max_ms", result.MaxPing))
	return result, nil
}

// UpdateServerPing folds times new ICMP samples into the running average of
// server, then checks that a TCP connection can be made. Any failure marks
// the server as ping-failed.
func (o *Orchestrator) UpdateServerPing(ctx context.Context, server *data.ServerResult, times int) *data.ServerError {
	server.PingFailed = false

	samples, err := o.prober.Ping(ctx, server.Server, times, false)
	if err == nil {
		var sum float64
		for _, s := range samples {
			sum += s
		}
		total := sum + server.PingAvg*float64(server.PingChecks)
		server.PingChecks += times
		server.PingAvg = total / float64(server.PingChecks)

		_, err = o.prober.Ping(ctx, server.Server, 1, true)
	}
	if err != nil {
		server.PingFailed = true
		o.logger.Debug("ping failure", zap.String("server", server.Server), zap.Error(err))
		return &data.ServerError{Server: server.Server, Err: err}
	}
	return nil
}

func pingRange(servers []*data.ServerResult) (float64, float64) {
	if len(servers) == 0 {
		return 0, 0
	}
	lo, hi := servers[0].PingAvg, servers[0].PingAvg
	for _, s := range servers[1:] {
		lo = min(lo, s.PingAvg)
		hi = max(hi, s.PingAvg)
	}
	return lo, hi
}
