package core

import (
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

var componentIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// Summary is the registry view of one component.
type Summary struct {
	ID            string       `json:"id"`
	DisplayName   string       `json:"display_name"`
	Services      []string     `json:"services,omitempty"`
	Status        HealthStatus `json:"status"`
	HealthMessage string       `json:"health_message,omitempty"`
}

// Registry holds the daemon's components in registration order.
type Registry struct {
	mu         sync.RWMutex
	components []Component
}

// NewRegistry validates ids and builds the registry.
func NewRegistry(components ...Component) (*Registry, error) {
	seen := make(map[string]bool)
	for _, c := range components {
		id := c.Manifest().ID
		if id == "" {
			return nil, fmt.Errorf("component id is empty")
		}
		if !componentIDPattern.MatchString(id) {
			return nil, fmt.Errorf("component id %q does not match %s", id, componentIDPattern.String())
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate component id: %s", id)
		}
		seen[id] = true
	}
	return &Registry{components: components}, nil
}

func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, summarize(c))
	}
	return out
}

func (r *Registry) Describe(id string) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.components {
		if c.Manifest().ID == id {
			return summarize(c), true
		}
	}
	return Summary{}, false
}

// Overall is the worst status across components.
func (r *Registry) Overall() HealthStatus {
	worst := HealthHealthy
	for _, s := range r.List() {
		switch s.Status {
		case HealthError:
			return HealthError
		case HealthDegraded:
			worst = HealthDegraded
		}
	}
	return worst
}

// MetricsRegistry builds a prometheus registry from component collectors.
func (r *Registry) MetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.components {
		for _, collector := range c.Collectors() {
			registry.MustRegister(collector)
		}
	}
	return registry
}

// RegisterGRPC registers every component that exposes gRPC services.
func (r *Registry) RegisterGRPC(server *grpc.Server) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.components {
		if g, ok := c.(GRPCRegistrant); ok {
			g.RegisterGRPC(server)
		}
	}
}

// RegisterHTTP mounts handlers of every component that exposes them.
func (r *Registry) RegisterHTTP(mux *http.ServeMux) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.components {
		if h, ok := c.(HTTPRegistrant); ok {
			h.RegisterHTTP(mux)
		}
	}
}

func summarize(c Component) Summary {
	m := c.Manifest()
	return Summary{
		ID:            m.ID,
		DisplayName:   m.DisplayName,
		Services:      m.Services,
		Status:        c.Health(),
		HealthMessage: c.HealthMessage(),
	}
}
