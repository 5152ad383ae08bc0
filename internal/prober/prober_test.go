package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/idanyas/speedpool/internal/client"
	"github.com/idanyas/speedpool/internal/metrics"
)

func newTestProber(t *testing.T, httpClient *http.Client, opts ...Option) *Prober {
	t.Helper()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &client.Client{
		HTTP:     httpClient,
		Resolver: client.NewResolver(false, false, nil, false),
		Dialer:   &net.Dialer{Timeout: time.Second},
		Network:  "tcp",
	}
	return New(c, zaptest.NewLogger(t), opts...)
}

func urlsFor(base string, paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, base+p)
	}
	return out
}

func TestMeasureThroughput_BoundedConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	var progress atomic.Int64
	p := newTestProber(t, srv.Client(), WithProgress(&progress))

	m, err := p.MeasureThroughput(context.Background(), urlsFor(srv.URL, "/1", "/2", "/3", "/4", "/5"), 2, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, 5, m.Completed)
	assert.Empty(t, m.Failures)
	assert.Equal(t, int64(5000), m.Bytes)
	assert.Equal(t, int64(5000), progress.Load())
	assert.GreaterOrEqual(t, m.Elapsed, 300*time.Millisecond)
	assert.Greater(t, m.BytesPerSecond, int64(0))
}

func TestMeasureThroughput_Upload(t *testing.T) {
	const size = 64*1024 + 7

	var mu sync.Mutex
	var received []int64
	var contentTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		mu.Lock()
		received = append(received, n)
		contentTypes = append(contentTypes, r.Header.Get("Content-Type"))
		mu.Unlock()
	}))
	defer srv.Close()

	reg := metrics.NewMetrics()
	p := newTestProber(t, srv.Client(), WithBufferSize(1024), WithMetrics(reg))

	m, err := p.MeasureThroughput(context.Background(), urlsFor(srv.URL, "/a", "/b", "/c"), 3, 0, size)
	require.NoError(t, err)

	assert.Equal(t, int64(3*size), m.Bytes)
	assert.Equal(t, []int64{size, size, size}, received)
	assert.Equal(t, []string{"application/octet-stream", "application/octet-stream", "application/octet-stream"}, contentTypes)
}

func TestMeasureThroughput_FailureDoesNotStopSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(make([]byte, 500))
	}))
	defer srv.Close()

	p := newTestProber(t, srv.Client())
	urls := urlsFor(srv.URL, "/good", "/bad", "/good")

	m, err := p.MeasureThroughput(context.Background(), urls, 2, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Completed)
	assert.Equal(t, int64(1000), m.Bytes)
	require.Len(t, m.Failures, 1)
	assert.ErrorIs(t, m.Failures[0], ErrUnexpectedStatus)

	var te *TransferError
	require.ErrorAs(t, m.Failures[0], &te)
	assert.Equal(t, srv.URL+"/bad", te.URL)
}

func TestMeasureThroughput_ReadTimeoutKeepsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		chunk := make([]byte, 1024)
		for i := 0; i < 200; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	p := newTestProber(t, srv.Client())

	m, err := p.MeasureThroughput(context.Background(), []string{srv.URL}, 1, 150*time.Millisecond, 0)
	require.NoError(t, err)

	assert.Empty(t, m.Failures)
	assert.Equal(t, 1, m.Completed)
	assert.Greater(t, m.Bytes, int64(0))
	assert.Less(t, m.Bytes, int64(200*1024))
	assert.Less(t, m.Elapsed, 2*time.Second)
}

func TestMeasureThroughput_ConnectionFailure(t *testing.T) {
	p := newTestProber(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := "http://" + ln.Addr().String() + "/x"
	ln.Close()

	m, err := p.MeasureThroughput(context.Background(), []string{dead}, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, m.Failures, 1)
	var te *TransferError
	require.ErrorAs(t, m.Failures[0], &te)
	assert.Equal(t, dead, te.URL)
	assert.Zero(t, m.BytesPerSecond)
}

func TestMeasureThroughput_InvalidArguments(t *testing.T) {
	p := newTestProber(t, nil)

	_, err := p.MeasureThroughput(context.Background(), nil, 1, 0, 0)
	assert.Error(t, err)

	_, err = p.MeasureThroughput(context.Background(), []string{"http://example.invalid"}, 0, 0, 0)
	assert.Error(t, err)
}

func TestMeasureThroughput_CancelledContext(t *testing.T) {
	p := newTestProber(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.MeasureThroughput(ctx, []string{"http://example.invalid"}, 1, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPing_TimeoutRace(t *testing.T) {
	p := newTestProber(t, nil, WithPingWaits(50*time.Millisecond, 10*time.Millisecond, 0))
	// The losing probe reports after the test returns.
	p.logger = zap.NewNop()

	release := make(chan struct{})
	defer close(release)
	p.icmp = func(ctx context.Context, host, port string, times int) ([]float64, error) {
		<-release
		return nil, errors.New("too late")
	}

	start := time.Now()
	_, err := p.Ping(context.Background(), "slow.example", 2, false)

	assert.ErrorIs(t, err, ErrPingTimeout)
	var pe *PingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "slow.example", pe.Target)
	assert.Equal(t, "icmp", pe.Method)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPing_WaitScalesWithTimes(t *testing.T) {
	p := newTestProber(t, nil, WithPingWaits(10*time.Millisecond, 100*time.Millisecond, 0))
	p.tcp = func(ctx context.Context, host, port string, times int) ([]float64, error) {
		time.Sleep(150 * time.Millisecond)
		return []float64{1, 2}, nil
	}

	// 2 samples allow 200ms, more than the 10ms floor.
	samples, err := p.Ping(context.Background(), "host.example", 2, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, samples)
}

func TestPing_ProbeFailure(t *testing.T) {
	p := newTestProber(t, nil)
	p.icmp = func(ctx context.Context, host, port string, times int) ([]float64, error) {
		return nil, fmt.Errorf("icmp status destination unreachable")
	}

	_, err := p.Ping(context.Background(), "https://down.example/path", 1, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPingTimeout)

	var pe *PingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "down.example", pe.Target)
}

func TestPing_TCPConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := newTestProber(t, nil, WithPingWaits(2*time.Second, time.Second, 10*time.Millisecond))

	samples, err := p.Ping(context.Background(), "http://"+ln.Addr().String(), 3, true)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s, 0.0)
	}
}

func TestPing_InvalidTimes(t *testing.T) {
	p := newTestProber(t, nil)
	_, err := p.Ping(context.Background(), "host.example", 0, true)
	assert.Error(t, err)
}

func TestPingTarget(t *testing.T) {
	testCases := []struct {
		input string
		host  string
		port  string
	}{
		{"speed.example", "speed.example", "443"},
		{"https://speed.example/download?size=1", "speed.example", "443"},
		{"http://speed.example/", "speed.example", "80"},
		{"speed.example:8080", "speed.example", "8080"},
		{"http://[2001:db8::1]:8443/x", "2001:db8::1", "8443"},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			host, port, err := pingTarget(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.host, host)
			assert.Equal(t, tc.port, port)
		})
	}

	_, _, err := pingTarget("https://")
	assert.Error(t, err)
}

func TestScratchBuffer_Reader(t *testing.T) {
	s := NewScratchBuffer(10)
	assert.Equal(t, 10, s.Len())

	raw, err := io.ReadAll(s.Reader(25))
	require.NoError(t, err)
	assert.Len(t, raw, 25)
	assert.Equal(t, raw[:10], raw[10:20])
	assert.True(t, strings.HasPrefix(string(raw[20:]), string(raw[:5])))
}
