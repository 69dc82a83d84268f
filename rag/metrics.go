package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pulse_chat_sessions_created_total",
	Help: "Number of chat sessions created.",
})

var chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_chat_turns_total",
	Help: "Number of chat turns by outcome.",
}, []string{"outcome"})
