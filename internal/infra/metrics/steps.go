package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(stepDuration, stepRetries, stepReplays) }

var (
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_seconds",
			Help:    "Duration of individual pipeline step attempts.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"step", "success"},
	)

	stepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_step_retries_total",
			Help: "Retries per pipeline step.",
		},
		[]string{"step"},
	)

	stepReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_step_replays_total",
			Help: "Steps served from a checkpoint instead of running again.",
		},
		[]string{"step"},
	)
)

func ObserveStep(step string, success bool, d time.Duration) {
	stepDuration.WithLabelValues(step, strconv.FormatBool(success)).Observe(d.Seconds())
}

func IncStepRetry(step string) { stepRetries.WithLabelValues(step).Inc() }

func IncStepReplay(step string) { stepReplays.WithLabelValues(step).Inc() }
