package fleet

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/robofleet/internal/realtime"
)

func TestSendDoesNotTouchSnapshots(t *testing.T) {
	store := realtime.NewMemory()
	ctx := context.Background()
	session, api := newTestSession(t, store, userAna)
	if err := session.Select(ctx, "R1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	publishControl(store, "R1", Control{ControllerUserID: userAna.ID})
	store.Publish(realtime.RealtimePath("R1"), []byte(`{"battery_level":50,"location":{"latitude":1,"longitude":2}}`))

	before := session.Snapshot()
	if !session.Send(ctx, CommandUp) {
		t.Fatalf("send failed: %s", session.Errors().Message())
	}
	after := session.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("send changed snapshot: before=%+v after=%+v", before, after)
	}
	if _, _, commands := api.calls(); commands != 1 {
		t.Fatalf("expected 1 command, got %d", commands)
	}

	store.Publish(realtime.RealtimePath("R1"), []byte(`{"battery_level":50,"location":{"latitude":1.1,"longitude":2}}`))
	if session.Snapshot().Realtime.Location.Latitude != 1.1 {
		t.Fatalf("expected movement to arrive by push")
	}
}

func TestSendFailureSetsErrorSlot(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("robot is docked")}
	errs := &ErrorSlot{}
	d := NewDispatcher(api, errs, quietLogger())

	if d.Send(context.Background(), "R1", CommandLeft) {
		t.Fatalf("expected failure")
	}
	if errs.Message() != "robot is docked" {
		t.Fatalf("unexpected error slot: %q", errs.Message())
	}
}

func TestSendRejectsInvalidInput(t *testing.T) {
	api := &fakeAPI{}
	d := NewDispatcher(api, nil, quietLogger())

	if d.Send(context.Background(), "", CommandStop) {
		t.Fatalf("expected empty robot id to be rejected")
	}
	if d.Send(context.Background(), "R1", Command("fly")) {
		t.Fatalf("expected unknown command to be rejected")
	}
	if _, _, commands := api.calls(); commands != 0 {
		t.Fatalf("rejected sends must not reach the backend")
	}
}

func TestSessionSendRequiresControl(t *testing.T) {
	store := realtime.NewMemory()
	ctx := context.Background()
	session, api := newTestSession(t, store, userAna)
	if err := session.Select(ctx, "R1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	publishControl(store, "R1", Control{ControllerUserID: userBen.ID})

	if session.Send(ctx, CommandRight) {
		t.Fatalf("expected send without control to fail")
	}
	if _, _, commands := api.calls(); commands != 0 {
		t.Fatalf("expected no backend call")
	}
}

func TestSendDoesNotSerialise(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{sendGate: gate}
	d := NewDispatcher(api, nil, quietLogger())

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Send(context.Background(), "R1", CommandUp)
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.InFlight() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected two commands in flight, got %d", d.InFlight())
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)
	wg.Wait()

	if !results[0] || !results[1] {
		t.Fatalf("expected both sends to succeed: %v", results)
	}
	if d.InFlight() != 0 {
		t.Fatalf("expected no commands in flight, got %d", d.InFlight())
	}
}

func TestParseCommand(t *testing.T) {
	cases := map[string]Command{
		"up":          CommandUp,
		" Forward ":   CommandUp,
		"return-home": CommandReturnHome,
		"home":        CommandReturnHome,
		"STOP":        CommandStop,
	}
	for raw, want := range cases {
		got, err := ParseCommand(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
	if _, err := ParseCommand("jump"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestSelectUnknownRobotDoesNotAttach(t *testing.T) {
	store := realtime.NewMemory()
	session, api := newTestSession(t, store, userAna)
	api.missing = map[string]bool{"ghost": true}

	if err := session.Select(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error")
	}
	if paths := store.ActivePaths(); len(paths) != 0 {
		t.Fatalf("expected no listeners, got %v", paths)
	}
}

func TestCommandsAreValidAndParse(t *testing.T) {
	cmds := Commands()
	if len(cmds) != 8 {
		t.Fatalf("expected 8 commands, got %v", cmds)
	}
	for _, cmd := range cmds {
		parsed, err := ParseCommand(string(cmd))
		if err != nil || parsed != cmd {
			t.Fatalf("parse %q: %v %v", cmd, parsed, err)
		}
	}
	cmds[0] = "sideways"
	if Commands()[0] != CommandUp {
		t.Fatalf("Commands must return a copy")
	}
}
