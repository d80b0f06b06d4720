package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDrainsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_drains_total",
		Help: "Total drain runs, including cascades and coalesced retries",
	})

	metricDrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autopilot_drain_duration_seconds",
		Help:    "Duration of a full drain run",
		Buckets: prometheus.DefBuckets,
	})

	metricActionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_actions_processed_total",
		Help: "Actions resolved with a terminal status, by action type",
	}, []string{"action_type"})

	metricActionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_actions_failed_total",
		Help: "Actions that ended failed or errored, by action type",
	}, []string{"action_type"})

	metricInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autopilot_actions_in_flight",
		Help: "Actions currently dispatched to a step, by action type",
	}, []string{"action_type"})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopilot_pending_queue_depth",
		Help: "Pending queue size at the start of the last drain pass",
	})
)
