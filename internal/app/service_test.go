package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/idanyas/speedpool/internal/app"
	mockapp "github.com/idanyas/speedpool/internal/app/mock"
	"github.com/idanyas/speedpool/internal/data"
	"github.com/idanyas/speedpool/internal/prober"
)

func pingedServers() []*data.ServerResult {
	servers := newServers("a", "b")
	servers[0].PingChecks, servers[0].PingAvg = 2, 10
	servers[1].PingChecks, servers[1].PingAvg = 2, 20
	return servers
}

var downloadOpts = app.TestOptions{
	MaxServers:       2,
	MaxTests:         4,
	MaxConcurrent:    2,
	MegabytesPerTest: 3,
	SkipPingRefresh:  true,
}

// failSecond fails the transfer of the second URL it is handed.
func failSecond(cause error) func(context.Context, []string, int, time.Duration, int64) (prober.Measurement, error) {
	return func(_ context.Context, urls []string, _ int, _ time.Duration, _ int64) (prober.Measurement, error) {
		return prober.Measurement{
			BytesPerSecond: 1234,
			Failures:       []error{&prober.TransferError{URL: urls[1], Err: cause}},
		}, nil
	}
}

func TestTestService_MapsFailuresToServers(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: pingedServers()})
	o := newOrchestrator(t, p, newFakeClock())

	p.EXPECT().MeasureThroughput(gomock.Any(), gomock.Len(4), 2, 5*time.Second, int64(0)).
		DoAndReturn(failSecond(prober.ErrUnexpectedStatus))

	res, err := o.TestService(context.Background(), svc, downloadOpts)
	require.NoError(t, err)

	assert.Equal(t, int64(1234), res.BytesPerSecond)
	assert.Equal(t, 10.0, res.MinPing)
	assert.Equal(t, 20.0, res.MaxPing)
	require.Len(t, res.ServerErrors, 1)
	assert.Equal(t, "b", res.ServerErrors[0].Server)
	assert.ErrorIs(t, res.ServerErrors[0], prober.ErrUnexpectedStatus)
}

func TestTestService_Upload(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: pingedServers()})
	o := newOrchestrator(t, p, newFakeClock())

	p.EXPECT().MeasureThroughput(gomock.Any(), gomock.Any(), 2, gomock.Any(), int64(3000)).DoAndReturn(
		func(_ context.Context, urls []string, _ int, _ time.Duration, _ int64) (prober.Measurement, error) {
			for _, u := range urls {
				assert.True(t, strings.Contains(u, "upload=true"), u)
			}
			return prober.Measurement{BytesPerSecond: 99}, nil
		})

	opts := downloadOpts
	opts.Upload = true
	res, err := o.TestService(context.Background(), svc, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(99), res.BytesPerSecond)
	assert.Nil(t, res.ServerErrors)
}

func TestTestService_StrictMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: pingedServers()})
	o := newOrchestrator(t, p, newFakeClock())

	p.EXPECT().MeasureThroughput(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(failSecond(errors.New("connection reset")))

	opts := downloadOpts
	opts.ThrowOnServerError = true
	res, err := o.TestService(context.Background(), svc, opts)
	assert.Nil(t, res)

	var serverErrs data.ServerErrors
	require.ErrorAs(t, err, &serverErrs)
	assert.Equal(t, []string{"b"}, serverErrs.Servers())
}

func TestTestService_ContractViolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: pingedServers()})
	o := newOrchestrator(t, p, newFakeClock())

	boom := errors.New("boom")
	p.EXPECT().MeasureThroughput(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(prober.Measurement{Failures: []error{boom}}, nil)

	_, err := o.TestService(context.Background(), svc, downloadOpts)
	assert.ErrorIs(t, err, boom)

	var serverErrs data.ServerErrors
	assert.False(t, errors.As(err, &serverErrs))
}

func TestTestService_RefreshesEmptyPool(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mockapp.NewMockProber(ctrl)
	list := &serverList{}
	svc := newService(ctrl, list)
	o := newOrchestrator(t, p, newFakeClock())

	svc.EXPECT().RefreshPossibleServers(gomock.Any()).DoAndReturn(func(context.Context) error {
		list.set(newServers("fresh"))
		return nil
	})
	p.EXPECT().MeasureThroughput(gomock.Any(), gomock.Len(4), 2, gomock.Any(), int64(0)).
		Return(prober.Measurement{BytesPerSecond: 10}, nil)

	res, err := o.TestService(context.Background(), svc, downloadOpts)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.BytesPerSecond)
	assert.Zero(t, res.MinPing)
}

func TestTestService_NoHealthyServers(t *testing.T) {
	ctrl := gomock.NewController(t)
	servers := newServers("a")
	servers[0].PingFailed = true
	svc := newService(ctrl, &serverList{servers: servers})
	o := newOrchestrator(t, mockapp.NewMockProber(ctrl), newFakeClock())

	svc.EXPECT().RefreshPossibleServers(gomock.Any()).Return(nil)

	_, err := o.TestService(context.Background(), svc, downloadOpts)
	assert.ErrorIs(t, err, app.ErrNoHealthyServers)
}

func TestTestService_WithPingRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: newServers("a", "b", "c")})
	o := newOrchestrator(t, p, newFakeClock())

	expectPings(p, map[string][]float64{"a": {30, 30}, "b": {10, 10}})
	p.EXPECT().MeasureThroughput(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, urls []string, _ int, _ time.Duration, _ int64) (prober.Measurement, error) {
			assert.True(t, strings.HasPrefix(urls[0], "https://b/"), "fastest server first")
			return prober.Measurement{
				BytesPerSecond: 5,
				Failures:       []error{&prober.TransferError{URL: urls[1], Err: errors.New("eof")}},
			}, nil
		})

	opts := downloadOpts
	opts.SkipPingRefresh = false
	res, err := o.TestService(context.Background(), svc, opts)
	require.NoError(t, err)

	assert.Equal(t, 10.0, res.MinPing)
	assert.Equal(t, 30.0, res.MaxPing)
	assert.Equal(t, []string{"c", "a"}, res.ServerErrors.Servers())
}

func TestTestService_MeasureError(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: pingedServers()})
	o := newOrchestrator(t, p, newFakeClock())

	p.EXPECT().MeasureThroughput(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(prober.Measurement{}, context.Canceled)

	_, err := o.TestService(context.Background(), svc, downloadOpts)
	assert.ErrorIs(t, err, context.Canceled)
}
