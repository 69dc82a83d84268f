package listcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_listcache_hits_total",
	Help: "Number of list fetches served from cache.",
}, []string{"key"})

var cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_listcache_misses_total",
	Help: "Number of list fetches that missed the cache.",
}, []string{"key"})

var loaderRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_listcache_loads_total",
	Help: "Number of elected loader executions against the source of truth.",
}, []string{"key"})

var followerServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_listcache_follower_served_total",
	Help: "Number of losing callers served by a concurrent winner's result.",
}, []string{"key"})

var followerTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulse_listcache_follower_timeouts_total",
	Help: "Number of losing callers that gave up waiting for a winner.",
}, []string{"key"})
