package fleet

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector exports the selected robot's pushed snapshots.
type MetricsCollector struct {
	session *Session

	attached       prometheus.Gauge
	batteryPercent *prometheus.GaugeVec
	storageFill    *prometheus.GaugeVec
	latitude       *prometheus.GaugeVec
	longitude      *prometheus.GaugeVec
	streamActive   *prometheus.GaugeVec
	controlHeld    *prometheus.GaugeVec
	controlledByMe *prometheus.GaugeVec
}

func NewMetricsCollector(session *Session) *MetricsCollector {
	labels := []string{"robot_id", "robot_name"}
	storageLabels := []string{"robot_id", "robot_name", "waste_type"}
	return &MetricsCollector{
		session: session,
		attached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robofleet_robot_selected",
			Help: "Whether a robot is selected and attached (1=yes, 0=no)",
		}),
		batteryPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robofleet_robot_battery_percent",
			Help: "Battery level (0-100)",
		}, labels),
		storageFill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robofleet_robot_storage_fill_percent",
			Help: "Storage fill percentage by waste type",
		}, storageLabels),
		latitude: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robofleet_robot_latitude_degrees",
			Help: "Last reported GPS latitude",
		}, labels),
		longitude: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robofleet_robot_longitude_degrees",
			Help: "Last reported GPS longitude",
		}, labels),
		streamActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robofleet_robot_stream_active",
			Help: "Whether the live stream is active (1=yes, 0=no)",
		}, labels),
		controlHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robofleet_robot_control_held",
			Help: "Whether any user holds control (1=yes, 0=no)",
		}, labels),
		controlledByMe: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robofleet_robot_controlled_by_me",
			Help: "Whether the local user holds control (1=yes, 0=no)",
		}, labels),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.attached.Describe(ch)
	c.batteryPercent.Describe(ch)
	c.storageFill.Describe(ch)
	c.latitude.Describe(ch)
	c.longitude.Describe(ch)
	c.streamActive.Describe(ch)
	c.controlHeld.Describe(ch)
	c.controlledByMe.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.batteryPercent.Reset()
	c.storageFill.Reset()
	c.latitude.Reset()
	c.longitude.Reset()
	c.streamActive.Reset()
	c.controlHeld.Reset()
	c.controlledByMe.Reset()

	robot := c.session.Robot()
	if robot.ID == "" || c.session.Snapshot().State != Attached {
		c.attached.Set(0)
	} else {
		c.attached.Set(1)
		labels := prometheus.Labels{
			"robot_id":   robot.ID,
			"robot_name": robot.Static.Name,
		}
		c.batteryPercent.With(labels).Set(robot.Realtime.BatteryLevel)
		c.latitude.With(labels).Set(robot.Realtime.Location.Latitude)
		c.longitude.With(labels).Set(robot.Realtime.Location.Longitude)
		c.streamActive.With(labels).Set(boolGauge(robot.Realtime.LiveStream.Active))
		c.controlHeld.With(labels).Set(boolGauge(robot.Control.Held()))
		c.controlledByMe.With(labels).Set(boolGauge(controlledBy(robot.Control, c.session.User())))
		for _, waste := range robot.Realtime.WasteTypes() {
			c.storageFill.With(prometheus.Labels{
				"robot_id":   robot.ID,
				"robot_name": robot.Static.Name,
				"waste_type": waste,
			}).Set(robot.Realtime.Storage[waste])
		}
	}

	c.attached.Collect(ch)
	c.batteryPercent.Collect(ch)
	c.storageFill.Collect(ch)
	c.latitude.Collect(ch)
	c.longitude.Collect(ch)
	c.streamActive.Collect(ch)
	c.controlHeld.Collect(ch)
	c.controlledByMe.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
