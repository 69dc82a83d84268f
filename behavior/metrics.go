package behavior

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_behavior_records_total",
	Help: "Behavior record attempts by outcome.",
}, []string{"outcome"})

var consumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_behavior_consumed_total",
	Help: "Queued behavior messages processed by outcome.",
}, []string{"outcome"})
