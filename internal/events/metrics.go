package events

import (
	"context"

	"veil/internal/platform/metrics"
)

// MetricsRecorder bumps the core Prometheus counters per event. Counters
// reveal only operation counts, never encrypted outcomes.
type MetricsRecorder struct {
	metrics *metrics.Metrics
}

func NewMetricsRecorder(m *metrics.Metrics) *MetricsRecorder {
	return &MetricsRecorder{metrics: m}
}

func (r *MetricsRecorder) Record(_ context.Context, event Event) error {
	switch event.Type {
	case TypeAttestationAdded:
		r.metrics.AttestationsTotal.Inc()
	case TypeAttestationRemoved:
		r.metrics.RevocationsTotal.Inc()
	case TypeComplianceChecked:
		r.metrics.ComplianceChecks.Inc()
	case TypeTransfer:
		r.metrics.TransfersTotal.Inc()
	case TypeClaim:
		r.metrics.ClaimsTotal.Inc()
	case TypeMint:
		r.metrics.MintsTotal.Inc()
	}
	return nil
}
