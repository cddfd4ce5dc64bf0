package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/robofleet/internal/core"
)

// HealthHandler reports the registry's overall status. Degraded components
// still answer 200 so that liveness probes do not restart the daemon.
func HealthHandler(registry *core.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		overall := registry.Overall()
		code := http.StatusOK
		if overall == core.HealthError {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(struct {
			Status     core.HealthStatus `json:"status"`
			Components []core.Summary    `json:"components"`
		}{overall, registry.List()})
	})
}
