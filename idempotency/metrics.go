package idempotency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gateWins = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pulse_idempotency_wins_total",
	Help: "Number of requests that claimed their idempotency key and executed.",
})

var gateReplays = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pulse_idempotency_replays_total",
	Help: "Number of duplicate requests served a recorded response.",
})

var gateConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pulse_idempotency_conflicts_total",
	Help: "Number of duplicate requests rejected while the first was in flight.",
})
