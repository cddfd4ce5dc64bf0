package realtime

import (
	"testing"

	"github.com/joshp123/robofleet/internal/core"
)

type disconnectedStore struct {
	*Memory
}

func (disconnectedStore) Connected() bool { return false }

func TestComponentHealth(t *testing.T) {
	healthy := NewComponent(NewMemory(), "memory")
	if got := healthy.Health(); got != core.HealthHealthy {
		t.Fatalf("expected healthy memory store, got %s", got)
	}
	if healthy.Manifest().ID != "realtime" {
		t.Fatalf("unexpected id %q", healthy.Manifest().ID)
	}

	down := NewComponent(disconnectedStore{NewMemory()}, "mqtt")
	if got := down.Health(); got != core.HealthDegraded {
		t.Fatalf("expected degraded when disconnected, got %s", got)
	}
	if down.HealthMessage() == "" {
		t.Fatal("expected health message when disconnected")
	}
}
