package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var logins = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_auth_logins_total",
	Help: "Number of login attempts by strategy and outcome.",
}, []string{"strategy", "outcome"})
