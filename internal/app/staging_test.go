package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/idanyas/speedpool/internal/app"
	mockapp "github.com/idanyas/speedpool/internal/app/mock"
	"github.com/idanyas/speedpool/internal/prober"
)

type batch struct {
	urls        int
	concurrency int
	bytes       int64
}

// stagedProber records each batch; the first one takes calibration on the
// fake clock and fails its first URL.
type stagedProber struct {
	mu          sync.Mutex
	clock       *fakeClock
	calibration time.Duration
	batches     []batch
}

func (s *stagedProber) Ping(context.Context, string, int, bool) ([]float64, error) {
	return []float64{1}, nil
}

func (s *stagedProber) MeasureThroughput(_ context.Context, urls []string, maxConcurrent int, _ time.Duration, uploadBytes int64) (prober.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch{urls: len(urls), concurrency: maxConcurrent, bytes: uploadBytes})

	if len(s.batches) == 1 {
		s.clock.Advance(s.calibration)
		return prober.Measurement{
			BytesPerSecond: 100,
			Failures:       []error{&prober.TransferError{URL: urls[0], Err: errors.New("calibration hiccup")}},
		}, nil
	}
	return prober.Measurement{BytesPerSecond: 1000}, nil
}

func TestDoRationalPreTestAndTest_Thresholds(t *testing.T) {
	testCases := []struct {
		name        string
		calibration time.Duration
		alwaysSmall bool
		expected    []batch
	}{
		{
			name:        "fast connection gets the big final test",
			calibration: 3 * time.Second,
			expected:    []batch{{urls: 3, concurrency: 5}, {urls: 10, concurrency: 5}},
		},
		{
			name:        "exactly medium still gets the big final test",
			calibration: 5 * time.Second,
			expected:    []batch{{urls: 3, concurrency: 5}, {urls: 10, concurrency: 5}},
		},
		{
			name:        "medium connection gets the small final test",
			calibration: 7 * time.Second,
			expected:    []batch{{urls: 3, concurrency: 5}, {urls: 5, concurrency: 3}},
		},
		{
			name:        "exactly slow still gets a final test",
			calibration: 10 * time.Second,
			expected:    []batch{{urls: 3, concurrency: 5}, {urls: 5, concurrency: 3}},
		},
		{
			name:        "forced small final test",
			calibration: time.Second,
			alwaysSmall: true,
			expected:    []batch{{urls: 3, concurrency: 5}, {urls: 5, concurrency: 3}},
		},
		{
			name:        "slow connection stops after calibration",
			calibration: 12 * time.Second,
			expected:    []batch{{urls: 3, concurrency: 5}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			clock := newFakeClock()
			p := &stagedProber{clock: clock, calibration: tc.calibration}
			svc := newService(ctrl, &serverList{servers: pingedServers()})
			o := app.New(p, zaptest.NewLogger(t), app.WithClock(clock.Now))

			res, err := o.DoRationalPreTestAndTest(context.Background(), svc, app.StageOptions{
				SkipInitialPing:  true,
				AlwaysSmallFinal: tc.alwaysSmall,
			})
			require.NoError(t, err)

			assert.Equal(t, tc.expected, p.batches)
			if len(tc.expected) == 1 {
				assert.Equal(t, int64(100), res.BytesPerSecond)
			} else {
				assert.Equal(t, int64(1000), res.BytesPerSecond)
			}
			require.Len(t, res.ServerErrors, 1, "calibration errors survive the final stage")
			assert.Equal(t, "a", res.ServerErrors[0].Server)
		})
	}
}

func TestDoRationalPreTestAndTest_UploadSizes(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newFakeClock()
	p := &stagedProber{clock: clock, calibration: time.Second}
	svc := newService(ctrl, &serverList{servers: pingedServers()})
	o := app.New(p, zaptest.NewLogger(t), app.WithClock(clock.Now))

	_, err := o.DoRationalPreTestAndTest(context.Background(), svc, app.StageOptions{Upload: true, SkipInitialPing: true})
	require.NoError(t, err)

	require.Len(t, p.batches, 2)
	assert.Equal(t, int64(2000), p.batches[0].bytes)
	assert.Equal(t, int64(25000), p.batches[1].bytes)
}

func TestDoRationalPreTestAndTest_CustomPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newFakeClock()
	p := &stagedProber{clock: clock, calibration: 2 * time.Second}
	svc := newService(ctrl, &serverList{servers: pingedServers()})

	policy := app.DefaultPolicy()
	policy.Medium = time.Second
	policy.Small = app.Profile{Servers: 1, Tests: 7, Concurrency: 1, MegabytesPerTest: 1}
	o := app.New(p, zaptest.NewLogger(t), app.WithClock(clock.Now), app.WithPolicy(policy))

	_, err := o.DoRationalPreTestAndTest(context.Background(), svc, app.StageOptions{SkipInitialPing: true})
	require.NoError(t, err)
	assert.Equal(t, batch{urls: 7, concurrency: 1}, p.batches[1])
}

func TestDoRationalPreTestAndTest_InitialPing(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := newFakeClock()
	mp := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: newServers("a", "b")})
	o := app.New(mp, zaptest.NewLogger(t), app.WithClock(clock.Now))

	expectPings(mp, map[string][]float64{"a": {8, 12}})
	mp.EXPECT().MeasureThroughput(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(prober.Measurement{BytesPerSecond: 42}, nil).Times(2)

	res, err := o.DoRationalPreTestAndTest(context.Background(), svc, app.StageOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.BytesPerSecond)
	assert.Equal(t, 10.0, res.MinPing)
	assert.Equal(t, 10.0, res.MaxPing)
	assert.Equal(t, []string{"b"}, res.ServerErrors.Servers())
}

func TestDoRationalPreTestAndTest_StrictPing(t *testing.T) {
	ctrl := gomock.NewController(t)
	mp := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: newServers("a", "b")})
	o := newOrchestrator(t, mp, newFakeClock())

	expectPings(mp, map[string][]float64{"a": {8, 12}})

	res, err := o.DoRationalPreTestAndTest(context.Background(), svc, app.StageOptions{ThrowOnServerError: true})
	assert.Nil(t, res)
	assert.Error(t, err)
}

func TestDoRationalPreTestAndTest_Exhaustion(t *testing.T) {
	ctrl := gomock.NewController(t)
	mp := mockapp.NewMockProber(ctrl)
	svc := newService(ctrl, &serverList{servers: newServers("a")})
	o := newOrchestrator(t, mp, newFakeClock())

	expectPings(mp, nil)

	_, err := o.DoRationalPreTestAndTest(context.Background(), svc, app.StageOptions{})
	assert.ErrorIs(t, err, app.ErrNoHealthyServers)
}
