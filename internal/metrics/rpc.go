package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPC instruments the control socket.
type RPC struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRPC creates unregistered RPC instruments.
func NewRPC() *RPC {
	return &RPC{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Control socket requests by method and outcome.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Histogram of control socket request latencies.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"method"}),
	}
}

// Observe records one finished request. A nil receiver is a no-op.
func (r *RPC) Observe(method string, started time.Time, err error) {
	if r == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = "error"
	}
	r.requests.WithLabelValues(method, code).Inc()
	r.duration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// Describe implements prometheus.Collector.
func (r *RPC) Describe(ch chan<- *prometheus.Desc) {
	r.requests.Describe(ch)
	r.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *RPC) Collect(ch chan<- prometheus.Metric) {
	r.requests.Collect(ch)
	r.duration.Collect(ch)
}
