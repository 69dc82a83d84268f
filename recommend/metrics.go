package recommend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_recommend_requests_total",
	Help: "Recommendation requests by serving mode.",
}, []string{"mode"})
