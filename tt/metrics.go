package tt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttcom_connects_total",
		Help: "Successful server connections.",
	}, []string{"server"})

	metricDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttcom_disconnects_total",
		Help: "Server disconnections, wanted or not.",
	}, []string{"server"})

	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttcom_events_total",
		Help: "Inbound events dispatched, by event keyword.",
	}, []string{"server", "event"})

	metricTriggerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttcom_trigger_fires_total",
		Help: "Trigger matches that fired actions.",
	}, []string{"server", "trigger"})

	metricCorrelateTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttcom_correlated_timeouts_total",
		Help: "Correlated sends that timed out waiting for their id block.",
	}, []string{"server"})
)
