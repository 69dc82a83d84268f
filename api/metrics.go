package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_api_requests_total",
	Help: "Number of HTTP requests served, by method, route and status.",
}, []string{"method", "route", "status"})

var requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "pulse_api_request_seconds",
	Help:    "HTTP request latency, by method and route.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route"})

var ordersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_api_orders_created_total",
	Help: "Number of orders created, by payment method.",
}, []string{"method"})
