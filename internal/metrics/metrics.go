package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courier_online_users",
		Help: "Users with at least one live session.",
	})

	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "courier_sessions",
		Help: "Live websocket sessions.",
	})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_inbound_events_total",
		Help: "Inbound client events by name and outcome.",
	}, []string{"event", "outcome"})

	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courier_messages_relayed_total",
		Help: "Messages persisted and fanned out.",
	})

	DroppedDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courier_dropped_deliveries_total",
		Help: "Outbound events dropped because a session buffer was full or closed.",
	})

	Sweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_scheduler_sweeps_total",
		Help: "Scheduler sweeps by result.",
	}, []string{"result"})

	ScheduledDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_scheduled_deliveries_total",
		Help: "Scheduled messages processed by terminal status.",
	}, []string{"status"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "courier_scheduler_sweep_duration_seconds",
		Help:    "Wall time of one scheduler sweep.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		OnlineUsers,
		Sessions,
		InboundEvents,
		MessagesRelayed,
		DroppedDeliveries,
		Sweeps,
		ScheduledDeliveries,
		SweepDuration,
	)
}
