package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.TransferBytes("download", 1000)
	m.TransferBytes("download", 500)
	m.TransferBytes("upload", 0)
	m.TransferFailed("a.example")
	m.PingSample("icmp", 12)
	m.PingFailed("tcp")
	m.Quarantined(3)
	m.Throughput("fast", "download", 4096)

	assert.Equal(t, 1500.0, testutil.ToFloat64(m.transferBytes.WithLabelValues("download")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.transferBytes.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transferFailures.WithLabelValues("a.example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pingFailures.WithLabelValues("tcp")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.quarantined))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.throughput.WithLabelValues("fast", "download")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.pingLatency))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransferBytes("download", 1)
		m.TransferFailed("a.example")
		m.PingSample("icmp", 1)
		m.PingFailed("icmp")
		m.Quarantined(1)
		m.Throughput("fast", "upload", 1)
		assert.NoError(t, m.WriteTextfile("unused"))
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Throughput("speedtest", "upload", 2048)

	path := filepath.Join(t.TempDir(), "speedpool.prom")
	require.NoError(t, m.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `speedpool_throughput_bytes_per_second{direction="upload",provider="speedtest"} 2048`)
}
