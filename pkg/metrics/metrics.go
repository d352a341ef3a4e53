// Package metrics exposes the gateway's Prometheus instrumentation and the
// request/response audit recorder.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Completed inference requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end inference request duration",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model"},
	)

	requestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_requests_in_flight",
		Help: "Inference requests currently being served",
	})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_dispatch_batch_size",
		Help:    "Number of requests dispatched together in one batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	connectedRunners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connected_runners",
		Help: "Runners currently holding a control connection",
	})

	wakeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_wake_attempts_total",
			Help: "Wake-on-LAN attempts by outcome",
		},
		[]string{"outcome"},
	)

	queuedRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_queued_requests",
		Help: "Requests waiting in the batch queue",
	})
)

// RecordRequest records one completed inference request.
func RecordRequest(model, outcome string, duration time.Duration) {
	requestsTotal.WithLabelValues(model, outcome).Inc()
	requestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement, intended for defer.
func TrackInFlight() func() {
	requestsInFlight.Inc()
	return requestsInFlight.Dec
}

// ObserveBatch records the size of a dispatched batch.
func ObserveBatch(size int) {
	batchSize.Observe(float64(size))
}

// SetConnectedRunners records the current control-connection count.
func SetConnectedRunners(n int) {
	connectedRunners.Set(float64(n))
}

// RecordWake records one wake attempt.
func RecordWake(outcome string) {
	wakeAttempts.WithLabelValues(outcome).Inc()
}

// SetQueuedRequests records the current batch-queue depth.
func SetQueuedRequests(n int) {
	queuedRequests.Set(float64(n))
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
