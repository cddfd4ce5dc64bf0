package realtime

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestSubackFailureIsPermissionDenied(t *testing.T) {
	path := ControlPath("r1")

	err := subackResultError(path, map[string]byte{path: 0x80})
	if !IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := subackResultError(path, map[string]byte{path: 1}); err != nil {
		t.Fatalf("expected granted QoS to pass, got %v", err)
	}
	if err := subackResultError(path, map[string]byte{RealtimePath("r1"): 0x80}); err != nil {
		t.Fatalf("expected other topics to be ignored, got %v", err)
	}
}

func TestConnectionLostIsTransient(t *testing.T) {
	m := &MQTT{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		subs: make(map[string]map[int]subscriber),
		last: make(map[string][]byte),
	}
	var got []error
	record := func(err error) { got = append(got, err) }
	m.subs[RealtimePath("r1")] = map[int]subscriber{0: {onError: record}}
	m.subs[ControlPath("r1")] = map[int]subscriber{1: {onError: record}, 2: {}}

	m.connectionLost(errors.New("EOF"))

	if len(got) != 2 {
		t.Fatalf("expected every listener with an error callback notified, got %d", len(got))
	}
	for _, err := range got {
		if IsPermissionDenied(err) {
			t.Fatalf("connection loss must not be permission denied: %v", err)
		}
		if !strings.Contains(err.Error(), "connection lost") {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if m.Connected() {
		t.Fatalf("expected a client-less store to report disconnected")
	}
}
