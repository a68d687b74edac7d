package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ApplicationsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_applications_submitted_total",
		Help: "Total number of loan applications submitted",
	})

	DecryptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_decryption_requests_total",
		Help: "Decryption requests forwarded to the oracle, by target kind",
	}, []string{"target"})

	CallbacksApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_callbacks_total",
		Help: "Oracle callbacks received, by target kind and result",
	}, []string{"target", "result"})

	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_pending_requests",
		Help: "Decryption requests currently awaiting a callback",
	})

	PendingEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_pending_evicted_total",
		Help: "Pending decryption requests evicted after their TTL",
	})

	CategoriesKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_categories_known",
		Help: "Distinct yield categories revealed so far",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_published_total",
		Help: "Outbox events delivered, by sink",
	}, []string{"sink"})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_event_publish_failures_total",
		Help: "Failed outbox deliveries, by sink",
	}, []string{"sink"})

	RelayerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_jobs_total",
		Help: "Decryption jobs processed by the relayer, by result",
	}, []string{"result"})

	RelayerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_queue_depth",
		Help: "Decryption jobs waiting for a worker",
	})

	RelayerDecryptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relayer_decrypt_duration_seconds",
		Help:    "Time spent decrypting and signing one request",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveCallback records the outcome of an oracle callback.
func ObserveCallback(target string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	CallbacksApplied.WithLabelValues(target, result).Inc()
}
