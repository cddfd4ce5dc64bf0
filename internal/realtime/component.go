package realtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/robofleet/internal/core"
)

var subscriptionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "robofleet_realtime_listeners",
	Help: "Live realtime listeners per driver",
}, []string{"driver"})

// Component reports the realtime store to the registry.
type Component struct {
	store  Store
	driver string
}

var _ core.Component = (*Component)(nil)

func NewComponent(store Store, driver string) *Component {
	return &Component{store: store, driver: driver}
}

func (c *Component) Manifest() core.Manifest {
	return core.Manifest{ID: "realtime", DisplayName: "Realtime store (" + c.driver + ")"}
}

func (c *Component) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "robofleet_realtime_connected",
			Help:        "Whether the realtime store is connected",
			ConstLabels: prometheus.Labels{"driver": c.driver},
		}, func() float64 {
			if c.connected() {
				return 1
			}
			return 0
		}),
		subscriptionsActive,
	}
}

func (c *Component) Health() core.HealthStatus {
	if !c.connected() {
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (c *Component) HealthMessage() string {
	if !c.connected() {
		return "broker connection lost"
	}
	return ""
}

func (c *Component) connected() bool {
	if conn, ok := c.store.(interface{ Connected() bool }); ok {
		return conn.Connected()
	}
	return true
}
