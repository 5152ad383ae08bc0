package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transferBytes    *prometheus.CounterVec
	transferFailures *prometheus.CounterVec
	pingLatency      *prometheus.HistogramVec
	pingFailures     *prometheus.CounterVec
	quarantined      prometheus.Gauge
	throughput       *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedpool_transfer_bytes_total",
			Help: "Bytes moved by completed transfers",
		}, []string{"direction"}),
		transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedpool_transfer_failures_total",
			Help: "Transfers that failed, by target host",
		}, []string{"host"}),
		pingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speedpool_ping_milliseconds",
			Help:    "Latency samples by probe method",
			Buckets: []float64{5, 10, 20, 40, 80, 160, 320, 640, 1280},
		}, []string{"method"}),
		pingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speedpool_ping_failures_total",
			Help: "Ping sequences that failed or timed out",
		}, []string{"method"}),
		quarantined: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedpool_quarantined_servers",
			Help: "Servers currently quarantined",
		}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "speedpool_throughput_bytes_per_second",
			Help: "Last measured throughput by provider and direction",
		}, []string{"provider", "direction"}),
	}

	m.registry.MustRegister(
		m.transferBytes,
		m.transferFailures,
		m.pingLatency,
		m.pingFailures,
		m.quarantined,
		m.throughput,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) TransferBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) TransferFailed(host string) {
	if m == nil {
		return
	}
	m.transferFailures.WithLabelValues(host).Inc()
}

func (m *Metrics) PingSample(method string, millis float64) {
	if m == nil {
		return
	}
	m.pingLatency.WithLabelValues(method).Observe(millis)
}

func (m *Metrics) PingFailed(method string) {
	if m == nil {
		return
	}
	m.pingFailures.WithLabelValues(method).Inc()
}

func (m *Metrics) Quarantined(n int) {
	if m == nil {
		return
	}
	m.quarantined.Set(float64(n))
}

func (m *Metrics) Throughput(provider, direction string, bytesPerSecond int64) {
	if m == nil {
		return
	}
	m.throughput.WithLabelValues(provider, direction).Set(float64(bytesPerSecond))
}
