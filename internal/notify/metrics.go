package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	notificationsMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robofleet_notifications_merged_total",
			Help: "Server notifications processed by merge outcome",
		},
		[]string{"outcome"},
	)
	notificationsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robofleet_notifications_triggered_total",
			Help: "Locally triggered notifications by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	notificationsUnread = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robofleet_notifications_unread",
			Help: "Unread notifications held by the client",
		},
	)
	cacheWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robofleet_notification_cache_writes_total",
			Help: "Notification cache writes by key and result",
		},
		[]string{"key", "result"},
	)
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		notificationsMerged,
		notificationsTriggered,
		notificationsUnread,
		cacheWrites,
	}
}
