package client

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics holds the per-client Prometheus collectors.
type clientMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "temeva_client_requests_total",
		Help: "Total licensing API calls by verb and response status.",
	}, []string{"verb", "status"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "temeva_client_request_duration_seconds",
		Help:    "Licensing API call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"verb"})

	var err error
	if requests, err = registerOrReuse(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	return &clientMetrics{requests: requests, duration: duration}, nil
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor so several clients can share one registry.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// observe records one call. status is 0 for transport failures.
func (m *clientMetrics) observe(verb string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(verb, label).Inc()
	m.duration.WithLabelValues(verb).Observe(elapsed.Seconds())
}
