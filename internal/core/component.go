package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// HealthStatus represents component health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Manifest describes a component for discovery.
type Manifest struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Services    []string `json:"services,omitempty"`
}

// Component is one piece of the daemon that reports health and metrics.
type Component interface {
	Manifest() Manifest
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// GRPCRegistrant allows components to expose gRPC services.
type GRPCRegistrant interface {
	RegisterGRPC(*grpc.Server)
}

// HTTPRegistrant allows components to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}
