package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecord(t *testing.T) {
	IncStepRetry("generate")
	IncStepRetry("generate")
	assert.Equal(t, 2.0, testutil.ToFloat64(stepRetries.WithLabelValues("generate")))

	IncJobProcessed(" Completed ")
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsProcessedTotal.WithLabelValues("completed")))

	ObserveStep("write", true, 20*time.Millisecond)
	ObserveWebhook("delivered", 1)
	IncContentConflict()
	assert.Equal(t, 1.0, testutil.ToFloat64(contentStoreConflicts))
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegister()
		MustRegister()
	})
}
