package sanction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sanctionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_sanctions_applied",
		Help: "Sanctions applied on the platform, by infraction type",
	}, []string{"type"})

	revocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_sanctions_revoked",
		Help: "Sanctions lifted, by kind and cause",
	}, []string{"kind", "cause"})

	sweepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_sweep_failures",
		Help: "Expired sanctions that could not be lifted and will be retried",
	}, []string{"kind"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_sanction_store_errors",
		Help: "Failed writes of active sanction records",
	}, []string{"op"})
)
