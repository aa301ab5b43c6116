package cooldown

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_duplicate_confirmations",
	Help: "Outcomes of duplicate-action confirmation prompts",
}, []string{"outcome"})
