package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the attestation orchestrator.
type Metrics struct {
	NoncesIssued    prometheus.Counter
	SessionsCreated prometheus.Counter
	Webhooks        *prometheus.CounterVec
}

// New creates and registers all orchestrator metrics.
func New() *Metrics {
	return &Metrics{
		NoncesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_kyc_nonces_issued_total",
			Help: "Total number of login nonces issued.",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_kyc_sessions_created_total",
			Help: "Total number of hosted verification sessions opened.",
		}),
		Webhooks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_kyc_webhooks_total",
			Help: "Webhook deliveries by processing result.",
		}, []string{"result"}),
	}
}

// Webhook results.
const (
	WebhookApplied  = "applied"
	WebhookReplayed = "replayed"
	WebhookRejected = "rejected"
	WebhookIgnored  = "ignored"
)
