package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// dispatchMetrics is the domain-stack metrics surface mentioned in the
// AMBIENT STACK expansion: a request counter and a handler-latency
// histogram, grounded on rockstar-0000-aistore and estuary-flow's use of
// github.com/prometheus/client_golang for exactly this shape of
// counter/histogram pair (see also reactor/metrics.go).
type dispatchMetrics struct {
	requestsTotal   prometheus.Counter
	handlerDuration prometheus.Histogram
}

func newDispatchMetrics() *dispatchMetrics {
	return &dispatchMetrics{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nisse_dispatch_requests_total",
			Help: "Total number of requests the dispatcher has parsed.",
		}),
		handlerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nisse_dispatch_handler_duration_seconds",
			Help:    "Time spent inside a matched route's handler.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register adds this Dispatcher's collectors to reg.
func (d *Dispatcher) Register(reg *prometheus.Registry) error {
	if err := reg.Register(d.metrics.requestsTotal); err != nil {
		return err
	}
	return reg.Register(d.metrics.handlerDuration)
}

type handlerTimer struct {
	start time.Time
}

func newHandlerTimer() handlerTimer {
	return handlerTimer{start: time.Now()}
}

func (t handlerTimer) seconds() float64 {
	return time.Since(t.start).Seconds()
}
