package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-wide Prometheus metrics. Feature packages keep their
// own collectors; these cover the core ledger surface.
type Metrics struct {
	AttestationsTotal prometheus.Counter
	RevocationsTotal  prometheus.Counter
	ComplianceChecks  prometheus.Counter
	TransfersTotal    prometheus.Counter
	ClaimsTotal       prometheus.Counter
	MintsTotal        prometheus.Counter
}

// New creates and registers all core Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AttestationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_attestations_total",
			Help: "Total number of identity attestations written.",
		}),
		RevocationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_revocations_total",
			Help: "Total number of identity attestations revoked.",
		}),
		ComplianceChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_compliance_checks_total",
			Help: "Total number of compliance verdicts computed.",
		}),
		TransfersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_transfers_total",
			Help: "Total number of transfer operations accepted (including silent no-ops).",
		}),
		ClaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_claims_total",
			Help: "Total number of claim operations accepted (including silent no-ops).",
		}),
		MintsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_mints_total",
			Help: "Total number of owner mints.",
		}),
	}
}
