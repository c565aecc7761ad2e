package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatnmove",
		Name:      "sessions",
		Help:      "Number of currently connected sessions.",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatnmove",
		Name:      "messages_total",
		Help:      "Inbound messages handled, by type.",
	}, []string{"type"})

	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatnmove",
		Name:      "broadcast_failures_total",
		Help:      "Messages dropped because a recipient's outbound buffer was unavailable.",
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatnmove",
		Name:      "evictions_total",
		Help:      "Sessions evicted by the liveness sweeper.",
	})
)
