package dispatcher

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded by Metrics.
const (
	outcomeSuccess         = "success"
	outcomeNotFound        = "not_found"
	outcomeInvalidRequest  = "invalid_request"
	outcomeHandlerError    = "handler_error"
	outcomeInvalidResponse = "invalid_response"
	outcomeInternalError   = "internal_error"
)

// unregisteredMethod labels messages for unknown methods so client input
// cannot grow the label set.
const unregisteredMethod = "unknown"

// Metrics records per-method dispatch counts and latencies.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the dispatch collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsdispatch",
			Name:      "messages_total",
			Help:      "Dispatched messages by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wsdispatch",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in Process by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}
