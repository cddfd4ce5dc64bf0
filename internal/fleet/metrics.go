package fleet

import "github.com/prometheus/client_golang/prometheus"

var (
	subscriptionAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robofleet_subscription_attached",
			Help: "Whether a robot listener pair is attached (1=yes, 0=no)",
		},
	)
	subscriptionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robofleet_subscription_events_total",
			Help: "Subscription lifecycle events by kind",
		},
		[]string{"event"},
	)
	pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robofleet_pushes_total",
			Help: "Snapshot pushes received by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
	controlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robofleet_control_requests_total",
			Help: "Control acquire/release attempts by result",
		},
		[]string{"op", "result"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robofleet_commands_total",
			Help: "Commands dispatched by command and result",
		},
		[]string{"command", "result"},
	)
	commandsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robofleet_commands_in_flight",
			Help: "Commands awaiting a backend response",
		},
	)
)

// MetricsCollectors exposes the package-level session collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		subscriptionAttached,
		subscriptionEvents,
		pushesTotal,
		controlRequests,
		commandsTotal,
		commandsInFlight,
	}
}
