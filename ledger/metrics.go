package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var infractionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_infractions_recorded",
	Help: "Number of infractions written to the ledger",
}, []string{"type"})

var infractionsPruned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderation_infractions_pruned",
	Help: "Number of infractions removed because their subject left the guild",
})

var storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_ledger_store_errors",
	Help: "Number of failed ledger database operations",
}, []string{"op"})
