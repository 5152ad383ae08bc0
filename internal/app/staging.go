package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/idanyas/speedpool/internal/data"
)

type StageOptions struct {
	Upload             bool
	SkipInitialPing    bool
	AlwaysSmallFinal   bool
	ThrowOnServerError bool
}

func (p Profile) testOptions(upload, throw bool) TestOptions {
	return TestOptions{
		Upload:             upload,
		MaxServers:         p.Servers,
		MaxTests:           p.Tests,
		MaxConcurrent:      p.Concurrency,
		MegabytesPerTest:   p.MegabytesPerTest,
		SkipPingRefresh:    true,
		ThrowOnServerError: throw,
	}
}

// DoRationalPreTestAndTest runs a small calibration test and sizes the final
// test by how long it took. Server errors of every stage end up in the
// returned result.
func (o *Orchestrator) DoRationalPreTestAndTest(ctx context.Context, svc SpeedService, opts StageOptions) (*data.TestResult, error) {
	var collected data.ServerErrors

	if !opts.SkipInitialPing {
		pings, err := o.RefreshServerPings(ctx, svc, o.policy.PingTimes)
		if err != nil {
			return nil, err
		}
		if len(pings.ServerErrors) > 0 && opts.ThrowOnServerError {
			return nil, pings.ServerErrors
		}
		collected = append(collected, pings.ServerErrors...)
	}

	start := o.now()
	calibration, err := o.TestService(ctx, svc, o.policy.Calibration.testOptions(opts.Upload, opts.ThrowOnServerError))
	if err != nil {
		return nil, err
	}
	elapsed := o.now().Sub(start)
	collected = append(collected, calibration.ServerErrors...)

	final, name := o.policy.Big, "big"
	if opts.AlwaysSmallFinal || elapsed > o.policy.Medium {
		final, name = o.policy.Small, "small"
	}

	o.logger.Debug("calibration done",
		zap.String("provider", svc.Name()),
		zap.Bool("upload", opts.Upload),
		zap.Duration("elapsed", elapsed),
		zap.Int64("bytes_per_second", calibration.BytesPerSecond),
		zap.String("final", name))

	result := calibration
	if elapsed <= o.policy.Slow {
		result, err = o.TestService(ctx, svc, final.testOptions(opts.Upload, opts.ThrowOnServerError))
		if err != nil {
			return nil, err
		}
		collected = append(collected, result.ServerErrors...)
	} else {
		o.logger.Info("connection too slow for a final test",
			zap.String("provider", svc.Name()),
			zap.Duration("calibration", elapsed))
	}

	if len(collected) > 0 {
		result.ServerErrors = collected
	} else {
		result.ServerErrors = nil
	}
	return result, nil
}
