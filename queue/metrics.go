package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publishes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_queue_publishes_total",
	Help: "Messages published, by queue.",
}, []string{"queue"})
