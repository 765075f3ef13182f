package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookDeliveries, webhookAttempts) }

var (
	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery outcomes (delivered/failed/skipped).",
		},
		[]string{"result"},
	)

	webhookAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_attempts",
			Help:    "Attempts used per webhook delivery.",
			Buckets: []float64{0, 1, 2, 3},
		},
	)
)

func ObserveWebhook(result string, attempts int) {
	webhookDeliveries.WithLabelValues(norm(result)).Inc()
	webhookAttempts.Observe(float64(attempts))
}
