package backend

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "robofleet_backend_token_refresh_success_total",
		Help: "Successful backend token refreshes",
	})
	refreshFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "robofleet_backend_token_refresh_failure_total",
		Help: "Failed backend token refreshes",
	})
	tokenValid = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "robofleet_backend_token_valid",
		Help: "Backend access token validity (1=valid, 0=invalid)",
	})
	persistOK = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "robofleet_backend_token_persist_ok",
		Help: "Refresh token persistence health (1=ok, 0=error)",
	})
	scopeMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "robofleet_backend_token_scope_mismatch_total",
		Help: "Cached refresh tokens ignored for a different scope",
	})
)

// MetricsCollectors returns collectors for the backend client.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		tokenValid,
		persistOK,
		scopeMismatch,
	}
}
