package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpout_deliveries_total",
			Help: "Total number of consumed events by actor and outcome.",
		},
		[]string{"actor", "status"}, // delivered, failed
	)

	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpout_delivery_failures_total",
			Help: "Total number of failed deliveries by reason.",
		},
		[]string{"actor", "reason"}, // e.g. http_5xx, timeout, invalid_method
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpout_delivery_latency_seconds",
			Help:    "Latency of outbound HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"actor"},
	)

	HTTPResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpout_http_responses_total",
			Help: "Total number of HTTP responses by status code.",
		},
		[]string{"actor", "code"},
	)

	WorkersBusy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "httpout_workers_busy",
			Help: "Number of pool workers with a request in flight.",
		},
		[]string{"actor"},
	)

	InboxBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "httpout_inbox_backlog",
			Help: "Messages waiting in the inbox channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(DeliveriesTotal, FailuresTotal, DeliveryLatency, HTTPResponsesTotal, WorkersBusy, InboxBacklog)
}

// RecordDelivery counts one consumed event. latency is skipped when zero, which
// happens when the event failed before any request was sent.
func RecordDelivery(actor, status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(actor, status).Inc()
	if latency > 0 {
		DeliveryLatency.WithLabelValues(actor).Observe(latency.Seconds())
	}
}

func RecordFailure(actor, reason string) {
	FailuresTotal.WithLabelValues(actor, reason).Inc()
}

func RecordHTTPResponse(actor string, code int) {
	HTTPResponsesTotal.WithLabelValues(actor, strconv.Itoa(code)).Inc()
}

func WorkerBusy(actor string) {
	WorkersBusy.WithLabelValues(actor).Inc()
}

func WorkerIdle(actor string) {
	WorkersBusy.WithLabelValues(actor).Dec()
}

func UpdateInboxBacklog(topic, channel string, depth float64) {
	InboxBacklog.WithLabelValues(topic, channel).Set(depth)
}
