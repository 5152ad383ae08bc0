package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/app"
	"github.com/idanyas/speedpool/internal/config"
	"github.com/idanyas/speedpool/internal/data"
	"github.com/idanyas/speedpool/internal/output"
	"github.com/idanyas/speedpool/internal/prober"
)

// located is implemented by providers that know where their server is.
type located interface {
	Location() *data.Location
	Trace() map[string]string
}

type runOptions struct {
	download bool
	upload   bool
	skipPing bool
	small    bool
	strict   bool
	hideIP   bool
}

type runner struct {
	cfg          config.Config
	svc          app.SpeedService
	orchestrator *app.Orchestrator
	prober       *prober.Prober
	logger       *zap.Logger
	json         bool
	progress     atomic.Int64
	spinner      *output.Progress
	errors       []string
}

func (r *runner) run(ctx context.Context, opts runOptions) error {
	report := &data.Report{Provider: r.svc.Name()}

	if !opts.skipPing {
		pings, err := r.latency(ctx)
		if err != nil {
			return err
		}
		report.Latency = data.Stats{Min: pings.MinPing, Max: pings.MaxPing}
	}

	if l, ok := r.svc.(located); ok {
		report.Location = l.Location()
		output.PrintProvider(r.svc.Name(), l.Location(), l.Trace(), r.json, opts.hideIP)
	} else {
		output.PrintProvider(r.svc.Name(), nil, nil, r.json, opts.hideIP)
	}
	if !opts.skipPing {
		output.PrintLatency(report.Latency.Min, report.Latency.Max, r.json)
	}

	if opts.download {
		res, err := r.stage(ctx, "Download:", false, opts)
		if err != nil {
			return err
		}
		report.Download = output.NewSpeed(res)
	}
	if opts.upload {
		res, err := r.stage(ctx, "Upload:", true, opts)
		if err != nil {
			return err
		}
		report.Upload = output.NewSpeed(res)
	}

	report.Servers = output.Candidates(r.svc.PossibleServers())
	report.Errors = r.errors
	if r.json {
		output.OutputJSON(report)
	}
	return nil
}

// latency pings every server. Once all of them have failed, the next attempt
// starts from a freshly fetched server list.
func (r *runner) latency(ctx context.Context) (*data.TestResult, error) {
	exhausted := false
	return r.retry(ctx, "latency", func() (*data.TestResult, error) {
		if exhausted {
			if err := r.svc.RefreshPossibleServers(ctx); err != nil {
				return nil, fmt.Errorf("failed to refresh %s servers: %w", r.svc.Name(), err)
			}
		}
		res, err := r.orchestrator.RefreshServerPings(ctx, r.svc, r.cfg.Staging.PingTimes)
		exhausted = errors.Is(err, app.ErrNoHealthyServers)
		return res, err
	}, nil)
}

// stage runs the calibrated test of one direction with a live spinner.
func (r *runner) stage(ctx context.Context, name string, upload bool, opts runOptions) (*data.TestResult, error) {
	r.progress.Store(0)
	r.spinner = output.StartProgress(name, &r.progress, time.Now(), r.json)
	defer func() { r.spinner = nil }()

	res, err := r.retry(ctx, name, func() (*data.TestResult, error) {
		return r.orchestrator.DoRationalPreTestAndTest(ctx, r.svc, app.StageOptions{
			Upload:             upload,
			SkipInitialPing:    true,
			AlwaysSmallFinal:   opts.small,
			ThrowOnServerError: opts.strict,
		})
	}, func(res *data.TestResult) bool {
		return res.BytesPerSecond > 0
	})
	r.spinner.Stop()
	if err != nil {
		if !r.json {
			fmt.Println()
		}
		return nil, err
	}

	output.PrintSpeed(name, res.BytesPerSecond, r.json)
	return res, nil
}

// retry runs fn up to cfg.Attempts times. Servers named in returned server
// errors are quarantined before the next attempt. A result is accepted when
// ok is nil or reports true.
func (r *runner) retry(ctx context.Context, what string, fn func() (*data.TestResult, error), ok func(*data.TestResult) bool) (*data.TestResult, error) {
	var (
		last    *data.TestResult
		lastErr error
	)
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		res, err := fn()
		if err == nil {
			r.quarantine(res.ServerErrors)
			if ok == nil || ok(res) {
				return res, nil
			}
			last, lastErr = res, nil
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var serverErrs data.ServerErrors
			if errors.As(err, &serverErrs) {
				r.quarantine(serverErrs)
			}
			last, lastErr = nil, err
		}
		r.logger.Info("attempt failed",
			zap.String("stage", what),
			zap.Int("attempt", attempt),
			zap.Int("of", r.cfg.Attempts),
			zap.Error(lastErr))
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return last, nil
}

func (r *runner) quarantine(errs data.ServerErrors) {
	if len(errs) == 0 {
		return
	}
	if r.spinner != nil {
		r.spinner.Hold(func() { output.PrintServerErrors(errs, r.cfg.Quarantine, r.json) })
	} else {
		output.PrintServerErrors(errs, r.cfg.Quarantine, r.json)
	}
	for _, e := range errs {
		r.errors = append(r.errors, e.Error())
	}
	for _, server := range errs.Servers() {
		r.orchestrator.AddBadServer(server, r.cfg.Quarantine)
	}
}

func (r *runner) listServers(ctx context.Context) error {
	if err := r.svc.RefreshPossibleServers(ctx); err != nil {
		return err
	}
	_, err := r.orchestrator.RefreshServerPings(ctx, r.svc, r.cfg.Staging.PingTimes)
	if err != nil && !errors.Is(err, app.ErrNoHealthyServers) {
		return err
	}
	output.ShowServers(r.svc.PossibleServers(), r.json)
	return nil
}
