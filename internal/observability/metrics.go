package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consultationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_transitions_total",
			Help: "Consultation lifecycle transitions by target status and outcome",
		},
		[]string{"operation", "outcome"},
	)
	bookingAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_booking_attempts_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)
	externalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consultation_external_call_duration_seconds",
			Help:    "Duration of calls to payment, push and session providers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator", "operation", "outcome"},
	)
	workerSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_worker_items_total",
			Help: "Items processed by background sweeps",
		},
		[]string{"job", "outcome"},
	)
	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consultation_rpc_duration_seconds",
			Help:    "Duration of gRPC calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of http request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveTransition(operation string, err error) {
	consultationTransitions.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveBooking records the result label directly ("ok", "slot_unavailable", ...).
func ObserveBooking(result string) {
	bookingAttempts.WithLabelValues(result).Inc()
}

func ObserveExternalCall(collaborator, operation string, started time.Time, err error) {
	externalCallDuration.WithLabelValues(collaborator, operation, outcome(err)).Observe(time.Since(started).Seconds())
}

func ObserveWorkerItem(job string, err error) {
	workerSweeps.WithLabelValues(job, outcome(err)).Inc()
}

func ObserveRPC(method, code string, started time.Time) {
	rpcDuration.WithLabelValues(method, code).Observe(time.Since(started).Seconds())
}

func ObserveHTTP(method, path string, status int, started time.Time) {
	httpRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}
