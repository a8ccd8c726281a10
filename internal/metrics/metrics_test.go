package metrics

import "testing"

func TestCollectorsRegisterWithoutPanicking(t *testing.T) {
	PendingTasks.Set(3)
	InFlightTasks.Inc()
	InFlightTasks.Dec()
	RequestsTotal.WithLabelValues(OutcomeSuccess).Inc()
	RequestsTotal.WithLabelValues(OutcomeError).Inc()
	InpaintBatchSize.WithLabelValues("short").Observe(4)
	TranslationLatencySeconds.Observe(0.2)
	RenderLatencySeconds.Observe(0.5)
}
