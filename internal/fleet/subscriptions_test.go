package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/joshp123/robofleet/internal/realtime"
)

type faultRecorder struct {
	mu     sync.Mutex
	faults []Fault
}

func (r *faultRecorder) record(f Fault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, f)
}

func (r *faultRecorder) all() []Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Fault(nil), r.faults...)
}

func newTestSubscriptions(store realtime.Store) (*Subscriptions, *faultRecorder) {
	rec := &faultRecorder{}
	return NewSubscriptions(store, SubscriptionOptions{Logger: quietLogger(), OnFault: rec.record}), rec
}

func TestAttachPlaceholdersBeforeFirstPush(t *testing.T) {
	store := realtime.NewMemory()
	subs, _ := newTestSubscriptions(store)

	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	snap := subs.Snapshot()
	if snap.State != Attached || snap.RobotID != "r1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Control.Held() || snap.Realtime.BatteryLevel != 0 || snap.Realtime.Storage != nil {
		t.Fatalf("expected empty placeholders, got %+v", snap)
	}
	if n := store.Listeners(realtime.RealtimePath("r1")); n != 1 {
		t.Fatalf("expected 1 realtime listener, got %d", n)
	}
	if n := store.Listeners(realtime.ControlPath("r1")); n != 1 {
		t.Fatalf("expected 1 control listener, got %d", n)
	}
}

func TestAttachSeedsFromCurrentValue(t *testing.T) {
	store := realtime.NewMemory()
	store.Publish(realtime.RealtimePath("r1"), []byte(`{"battery_level":64,"location":{"latitude":52.1,"longitude":4.3}}`))
	subs, _ := newTestSubscriptions(store)

	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	rt := subs.Realtime()
	if rt.BatteryLevel != 64 || rt.Location.Latitude != 52.1 {
		t.Fatalf("unexpected realtime: %+v", rt)
	}
}

func TestAttachSwitchKeepsSingleListenerPair(t *testing.T) {
	store := realtime.NewMemory()
	subs, _ := newTestSubscriptions(store)
	ctx := context.Background()

	if err := subs.Attach(ctx, "r1"); err != nil {
		t.Fatalf("attach r1: %v", err)
	}
	if err := subs.Attach(ctx, "r2"); err != nil {
		t.Fatalf("attach r2: %v", err)
	}

	paths := store.ActivePaths()
	want := []string{realtime.ControlPath("r2"), realtime.RealtimePath("r2")}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("expected only r2 listeners, got %v", paths)
	}
	if got := subs.CurrentRobot(); got != "r2" {
		t.Fatalf("expected current robot r2, got %q", got)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	store := realtime.NewMemory()
	subs, _ := newTestSubscriptions(store)

	subs.Detach()
	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	subs.Detach()
	subs.Detach()

	if subs.State() != Detached || subs.CurrentRobot() != "" {
		t.Fatalf("expected detached slot, got %+v", subs.Snapshot())
	}
	if paths := store.ActivePaths(); len(paths) != 0 {
		t.Fatalf("expected no listeners, got %v", paths)
	}
}

func TestPushReplacesSnapshotWholesale(t *testing.T) {
	store := realtime.NewMemory()
	subs, _ := newTestSubscriptions(store)
	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	store.Publish(realtime.RealtimePath("r1"), []byte(`{"battery_level":80,"storage":{"plastic":40,"glass":10},"live_stream":{"active":true,"url":"rtsp://cam"}}`))
	rt := subs.Realtime()
	if rt.Storage["plastic"] != 40 || !rt.LiveStream.Active {
		t.Fatalf("unexpected realtime: %+v", rt)
	}

	store.Publish(realtime.RealtimePath("r1"), []byte(`{"battery_level":79}`))
	rt = subs.Realtime()
	if rt.BatteryLevel != 79 {
		t.Fatalf("expected battery 79, got %v", rt.BatteryLevel)
	}
	if rt.Storage != nil || rt.LiveStream.Active {
		t.Fatalf("expected fields absent from the push to be cleared, got %+v", rt)
	}

	store.Publish(realtime.ControlPath("r1"), []byte(`null`))
	if subs.Control().Held() {
		t.Fatalf("null control push should leave the placeholder")
	}
}

func TestPermissionDeniedDetaches(t *testing.T) {
	store := realtime.NewMemory()
	subs, rec := newTestSubscriptions(store)
	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	store.Deny(realtime.ControlPath("r1"))

	if subs.State() != Detached {
		t.Fatalf("expected detached after permission denied, got %s", subs.State())
	}
	if paths := store.ActivePaths(); len(paths) != 0 {
		t.Fatalf("expected both listeners released, got %v", paths)
	}
	faults := rec.all()
	if len(faults) != 1 || !faults[0].Fatal || !realtime.IsPermissionDenied(faults[0].Err) {
		t.Fatalf("expected one fatal permission fault, got %+v", faults)
	}
	if faults[0].RobotID != "r1" || faults[0].Channel != ChannelControl {
		t.Fatalf("unexpected fault origin: %+v", faults[0])
	}
}

func TestPermissionDeniedDuringAttachReleasesPartialPair(t *testing.T) {
	store := realtime.NewMemory()
	store.Deny(realtime.ControlPath("r1"))
	subs, rec := newTestSubscriptions(store)

	err := subs.Attach(context.Background(), "r1")
	if !realtime.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if subs.State() != Detached {
		t.Fatalf("expected detached, got %s", subs.State())
	}
	if paths := store.ActivePaths(); len(paths) != 0 {
		t.Fatalf("realtime listener leaked: %v", paths)
	}
	if faults := rec.all(); len(faults) == 0 || !faults[0].Fatal {
		t.Fatalf("expected fatal fault, got %+v", faults)
	}
}

func TestTransientErrorStaysAttached(t *testing.T) {
	store := realtime.NewMemory()
	subs, rec := newTestSubscriptions(store)
	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	store.Fail(realtime.RealtimePath("r1"), errors.New("stream reset"))

	if subs.State() != Attached {
		t.Fatalf("expected to stay attached, got %s", subs.State())
	}
	faults := rec.all()
	if len(faults) != 1 || faults[0].Fatal {
		t.Fatalf("expected one non-fatal fault, got %+v", faults)
	}
}

func TestInvalidPushKeepsPreviousValue(t *testing.T) {
	store := realtime.NewMemory()
	subs, rec := newTestSubscriptions(store)
	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	publishControl(store, "r1", Control{ControllerUserID: "u1", ControllerUserName: "Ana"})

	store.Publish(realtime.ControlPath("r1"), []byte(`{not json`))

	if got := subs.Control().ControllerUserID; got != "u1" {
		t.Fatalf("expected control to survive a bad push, got %q", got)
	}
	if faults := rec.all(); len(faults) != 1 || faults[0].Fatal {
		t.Fatalf("expected a non-fatal decode fault, got %+v", faults)
	}
}

func TestStalePushIgnored(t *testing.T) {
	store := realtime.NewMemory()
	subs, _ := newTestSubscriptions(store)
	ctx := context.Background()
	if err := subs.Attach(ctx, "r1"); err != nil {
		t.Fatalf("attach r1: %v", err)
	}
	subs.mu.Lock()
	oldGen := subs.gen
	subs.mu.Unlock()

	if err := subs.Attach(ctx, "r2"); err != nil {
		t.Fatalf("attach r2: %v", err)
	}
	subs.apply(oldGen, ChannelControl, []byte(`{"controller_user_id":"ghost"}`))

	if subs.Control().Held() {
		t.Fatalf("late push for r1 leaked into r2: %+v", subs.Control())
	}
}

func TestWatchReceivesSnapshots(t *testing.T) {
	store := realtime.NewMemory()
	subs, _ := newTestSubscriptions(store)

	var mu sync.Mutex
	var seen []Snapshot
	cancel := subs.Watch(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	if err := subs.Attach(context.Background(), "r1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	store.Publish(realtime.RealtimePath("r1"), []byte(`{"battery_level":12}`))
	cancel()
	store.Publish(realtime.RealtimePath("r1"), []byte(`{"battery_level":11}`))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatalf("expected snapshots")
	}
	last := seen[len(seen)-1]
	if last.Realtime.BatteryLevel != 12 || last.State != Attached {
		t.Fatalf("unexpected last snapshot after cancel: %+v", last)
	}
}

func TestStateTextRoundTrip(t *testing.T) {
	for _, want := range []State{Detached, Attaching, Attached} {
		text, err := want.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", want, err)
		}
		var got State
		if err := got.UnmarshalText(text); err != nil || got != want {
			t.Fatalf("round trip %q: got %v, %v", text, got, err)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("gone")); err == nil {
		t.Fatalf("expected unknown state to fail")
	}
}
