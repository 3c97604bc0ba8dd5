package drip

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drip_emails_total",
		Help: "Drip emails by type and outcome (sent, drafted, failed, backfilled).",
	}, []string{"email_type", "outcome"})

	creditGrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drip_credit_grants_total",
		Help: "Salvage credit top-ups by outcome.",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drip_run_duration_seconds",
		Help:    "Duration of drip runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"kind"})
)
