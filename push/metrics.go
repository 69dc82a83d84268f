package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pulse_push_active_sessions",
	Help: "Number of live registered client sessions.",
})

var directedSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_push_directed_sends_total",
	Help: "Directed send attempts by outcome.",
}, []string{"outcome"})

var broadcastSends = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pulse_push_broadcast_sends_total",
	Help: "Messages delivered during broadcasts.",
})

var broadcastSkips = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pulse_push_broadcast_skips_total",
	Help: "Peers skipped during broadcasts because their write failed.",
})
