package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChargesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charges_created_total",
			Help: "Charge creation attempts by result",
		},
		[]string{"result"},
	)

	ChargeInconsistencies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "charge_inconsistencies_total",
			Help: "Charges created upstream that could not be stored locally",
		},
	)

	ChargeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charge_transitions_total",
			Help: "Applied charge status transitions",
		},
		[]string{"to"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook notifications by outcome",
		},
		[]string{"outcome"},
	)

	TokenExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_exchanges_total",
			Help: "Credential exchanges against the gateway authorization server",
		},
		[]string{"result"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
)
