package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "esign",
			Name:      "send_attempts_total",
			Help:      "Total send-for-signature attempts.",
		},
		[]string{"method", "outcome"}, // outcome: "success", "rate_limited", "recovered", "recovery_applied", "error"
	)

	rateLimitHitsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "esign",
			Name:      "rate_limit_hits_total",
			Help:      "Total send attempts suppressed or rejected by provider rate limiting.",
		},
	)

	recoveryProbesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "esign",
			Name:      "recovery_probes_total",
			Help:      "Total recovery verification passes.",
		},
		[]string{"outcome"}, // "found", "not_found"
	)

	reconciliationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "esign",
			Name:      "reconciliations_total",
			Help:      "Total status reconciliations.",
		},
		[]string{"trigger", "result"}, // trigger: "poll", "webhook"; result: "changed", "unchanged"
	)

	providerCallDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "esign",
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of orchestrated provider operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"}, // "upload", "create_agreement", "snapshot", "signing_urls", "events"
	)
)
