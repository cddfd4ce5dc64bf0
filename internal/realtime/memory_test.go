package realtime

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRetainedValueOnSubscribe(t *testing.T) {
	store := NewMemory()
	store.Publish("robots/r1/control", []byte(`{"controller_user_id":"u1"}`))

	var got []string
	unsub, err := store.Subscribe(context.Background(), "robots/r1/control", func(payload []byte) {
		got = append(got, string(payload))
	}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected retained delivery, got %v", got)
	}

	store.Publish("robots/r1/control", []byte(`{}`))
	if len(got) != 2 || got[1] != "{}" {
		t.Fatalf("unexpected deliveries: %v", got)
	}

	unsub()
	unsub()
	if n := store.Listeners("robots/r1/control"); n != 0 {
		t.Fatalf("expected no listeners, got %d", n)
	}
}

func TestMemoryDeny(t *testing.T) {
	store := NewMemory()
	var delivered error
	_, err := store.Subscribe(context.Background(), "robots/r1/realtime_data", nil, func(err error) {
		delivered = err
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	store.Deny("robots/r1/realtime_data")
	if !IsPermissionDenied(delivered) {
		t.Fatalf("expected permission denied, got %v", delivered)
	}
	if _, err := store.Subscribe(context.Background(), "robots/r1/realtime_data", nil, nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected subscribe to be refused, got %v", err)
	}
	if _, err := store.Get(context.Background(), "robots/r1/realtime_data"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected get to be refused, got %v", err)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	store := NewMemory()
	if _, err := store.Get(context.Background(), "robots/none/control"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	if got := RealtimePath("r7"); got != "robots/r7/realtime_data" {
		t.Fatalf("unexpected realtime path %s", got)
	}
	if got := ControlPath("r7"); got != "robots/r7/control" {
		t.Fatalf("unexpected control path %s", got)
	}
}

func TestIsTLSBroker(t *testing.T) {
	if !isTLSBroker("ssl://broker:8883") || !isTLSBroker("mqtts://broker") {
		t.Fatalf("expected tls schemes to be detected")
	}
	if isTLSBroker("tcp://broker:1883") {
		t.Fatalf("tcp broker reported as tls")
	}
}
