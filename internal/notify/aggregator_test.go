package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/robofleet/internal/kv"
)

type fakeAPI struct {
	mu         sync.Mutex
	list       []Notification
	requests   []AccessRequest
	failDelete map[int64]bool
	reads      []int64
	deletes    []int64
	approved   []int64
	denied     []int64
}

func (f *fakeAPI) Notifications(context.Context) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.list...), nil
}

func (f *fakeAPI) MarkNotificationRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, id)
	return nil
}

func (f *fakeAPI) DeleteNotification(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[id] {
		return errors.New("server refused")
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeAPI) AccessRequests(context.Context) ([]AccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AccessRequest(nil), f.requests...), nil
}

func (f *fakeAPI) ApproveAccess(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, id)
	return nil
}

func (f *fakeAPI) DenyAccess(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied = append(f.denied, id)
	return nil
}

func newTestAggregator(api API, cache kv.Store) *Aggregator {
	return NewAggregator(api, cache, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func remote(id int64, typ Type, read bool) Notification {
	return Notification{ID: RemoteID(id), Type: typ, Title: "t", Read: read}
}

func TestMergeNeverDuplicates(t *testing.T) {
	agg := newTestAggregator(&fakeAPI{}, nil)
	ctx := context.Background()

	stats := agg.Merge(ctx, []Notification{remote(7, TypeSystem, false)})
	if stats.Added != 1 {
		t.Fatalf("expected one added, got %+v", stats)
	}
	stats = agg.Merge(ctx, []Notification{remote(7, TypeSystem, true)})
	if stats.Added != 0 || stats.Updated != 1 {
		t.Fatalf("expected read update only, got %+v", stats)
	}

	list := agg.List()
	if len(list) != 1 {
		t.Fatalf("expected one entry, got %d", len(list))
	}
	if !list[0].Read {
		t.Fatalf("expected read flag updated in place")
	}
}

func TestMergePrependsUnseen(t *testing.T) {
	agg := newTestAggregator(&fakeAPI{}, nil)
	ctx := context.Background()
	agg.Merge(ctx, []Notification{remote(1, TypeSystem, false)})
	agg.Merge(ctx, []Notification{remote(3, TypeSystem, false), remote(2, TypeSystem, false), remote(1, TypeSystem, false)})

	list := agg.List()
	want := []string{"3", "2", "1"}
	if len(list) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID.String() != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestMergeSkipsDisabledTypes(t *testing.T) {
	agg := newTestAggregator(&fakeAPI{}, nil)
	ctx := context.Background()
	agg.SetSettings(ctx, Settings{Enabled: map[Type]bool{TypeStorageFull: false}})

	stats := agg.Merge(ctx, []Notification{remote(1, TypeStorageFull, false), remote(2, TypeBatteryLow, false)})
	if stats.Added != 1 || stats.Disabled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBatteryLowReturnsExistingUnread(t *testing.T) {
	agg := newTestAggregator(&fakeAPI{}, nil)
	ctx := context.Background()

	first, created := agg.BatteryLow(ctx, "R2", "Rover", 15)
	if !created {
		t.Fatalf("expected first trigger to create")
	}
	if !first.ID.IsLocal() {
		t.Fatalf("expected local id, got %v", first.ID.Origin())
	}
	second, created := agg.BatteryLow(ctx, "R2", "Rover", 12)
	if created {
		t.Fatalf("expected dedup while unread")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing notification returned")
	}
	if got := len(agg.List()); got != 1 {
		t.Fatalf("expected one entry, got %d", got)
	}

	if _, created := agg.BatteryLow(ctx, "R2", "Rover", 55); created {
		t.Fatalf("expected no trigger above threshold")
	}
	if _, created := agg.BatteryLow(ctx, "R3", "", 20); !created {
		t.Fatalf("expected trigger at threshold for another robot")
	}
}

func TestBatteryLowAfterReadCreatesNew(t *testing.T) {
	agg := newTestAggregator(&fakeAPI{}, nil)
	ctx := context.Background()

	first, _ := agg.BatteryLow(ctx, "R2", "", 10)
	if err := agg.MarkRead(ctx, first.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if _, created := agg.BatteryLow(ctx, "R2", "", 9); !created {
		t.Fatalf("expected a new notification once the old one is read")
	}
}

func TestLocalEntriesSkipBackend(t *testing.T) {
	api := &fakeAPI{}
	agg := newTestAggregator(api, nil)
	ctx := context.Background()

	local, _ := agg.Add(ctx, Notification{Type: TypeSystem, Title: "hello"})
	if err := agg.MarkRead(ctx, local.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := agg.Delete(ctx, local.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(api.reads) != 0 || len(api.deletes) != 0 {
		t.Fatalf("expected no backend calls, got reads=%v deletes=%v", api.reads, api.deletes)
	}
	if len(agg.List()) != 0 {
		t.Fatalf("expected local entry spliced out")
	}
	if err := agg.Delete(ctx, local.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoteEntriesGoThroughBackend(t *testing.T) {
	api := &fakeAPI{}
	agg := newTestAggregator(api, nil)
	ctx := context.Background()
	agg.Merge(ctx, []Notification{remote(5, TypeSystem, false)})

	if err := agg.MarkRead(ctx, RemoteID(5)); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := agg.Delete(ctx, RemoteID(5)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(api.reads) != 1 || api.reads[0] != 5 {
		t.Fatalf("unexpected reads: %v", api.reads)
	}
	if len(api.deletes) != 1 || api.deletes[0] != 5 {
		t.Fatalf("unexpected deletes: %v", api.deletes)
	}
}

func TestClearAllAccumulatesFailures(t *testing.T) {
	api := &fakeAPI{failDelete: map[int64]bool{2: true}}
	agg := newTestAggregator(api, nil)
	ctx := context.Background()
	agg.Merge(ctx, []Notification{remote(1, TypeSystem, false), remote(2, TypeSystem, false)})
	agg.Add(ctx, Notification{Type: TypeBatteryLow, RobotID: "R1"})

	result := agg.ClearAll(ctx)
	if result.OK() {
		t.Fatalf("expected partial failure")
	}
	if result.Removed != 2 {
		t.Fatalf("expected two removed, got %d", result.Removed)
	}
	if len(result.Failed) != 1 || result.Failed[0] != RemoteID(2) {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	if result.Err() == nil {
		t.Fatalf("expected joined error")
	}
	list := agg.List()
	if len(list) != 1 || list[0].ID != RemoteID(2) {
		t.Fatalf("expected refused entry kept, got %+v", list)
	}
}

func TestRefreshKeepsLocalEntries(t *testing.T) {
	api := &fakeAPI{}
	agg := newTestAggregator(api, nil)
	ctx := context.Background()
	agg.Merge(ctx, []Notification{remote(1, TypeSystem, false)})
	local, _ := agg.Add(ctx, Notification{Type: TypeBatteryLow, RobotID: "R1"})

	api.list = []Notification{remote(9, TypeSystem, false)}
	if err := agg.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ids := map[ID]bool{}
	for _, n := range agg.List() {
		ids[n.ID] = true
	}
	if ids[RemoteID(1)] {
		t.Fatalf("expected stale remote entry replaced")
	}
	if !ids[RemoteID(9)] || !ids[local.ID] {
		t.Fatalf("expected server entry and local entry, got %v", ids)
	}
}

func TestAccessRequestFlow(t *testing.T) {
	api := &fakeAPI{
		requests: []AccessRequest{{ID: 42, RobotID: "R1", RequesterName: "Ben"}},
	}
	agg := newTestAggregator(api, nil)
	ctx := context.Background()
	agg.Merge(ctx, []Notification{{
		ID:   RemoteID(3),
		Type: TypeAccessRequest,
		Data: map[string]any{"request_id": float64(42)},
	}})

	pending, err := agg.AccessRequests(ctx)
	if err != nil {
		t.Fatalf("access requests: %v", err)
	}
	if len(pending) != 1 || pending[0].Notification == nil || pending[0].Notification.ID != RemoteID(3) {
		t.Fatalf("expected request joined with notification, got %+v", pending)
	}

	if err := agg.Approve(ctx, 42); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(api.approved) != 1 || api.approved[0] != 42 {
		t.Fatalf("unexpected approvals: %v", api.approved)
	}
	if len(agg.Pending()) != 0 {
		t.Fatalf("expected request dropped")
	}
	if len(api.reads) != 1 || api.reads[0] != 3 {
		t.Fatalf("expected notification marked read, got %v", api.reads)
	}
	if agg.Unread() != 0 {
		t.Fatalf("expected nothing unread")
	}
}

func TestCachePersistence(t *testing.T) {
	cache := kv.NewMemory()
	ctx := context.Background()
	agg := newTestAggregator(&fakeAPI{}, cache)
	agg.SetSettings(ctx, Settings{Enabled: map[Type]bool{TypeSystem: false}})
	agg.Merge(ctx, []Notification{remote(1, TypeBatteryLow, false)})
	local, _ := agg.Add(ctx, Notification{Type: TypeStorageFull, RobotID: "R1"})

	restored := newTestAggregator(&fakeAPI{}, cache)
	restored.Load(ctx)
	if got := len(restored.List()); got != 2 {
		t.Fatalf("expected two cached entries, got %d", got)
	}
	if restored.List()[0].ID != local.ID {
		t.Fatalf("expected local id to survive the cache round trip")
	}
	if restored.Settings().Allows(TypeSystem) {
		t.Fatalf("expected settings restored")
	}
}

func TestLoadIgnoresCorruptCache(t *testing.T) {
	cache := kv.NewMemory()
	ctx := context.Background()
	if err := cache.Set(ctx, KeyNotifications, "{not json"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	agg := newTestAggregator(&fakeAPI{}, cache)
	agg.Load(ctx)
	if len(agg.List()) != 0 {
		t.Fatalf("expected empty list")
	}
	if !agg.Settings().Allows(TypeBatteryLow) {
		t.Fatalf("expected default settings")
	}
}

func TestIDJSON(t *testing.T) {
	var n Notification
	if err := json.Unmarshal([]byte(`{"id": 17, "type": "system"}`), &n); err != nil {
		t.Fatalf("decode remote: %v", err)
	}
	if id, ok := n.ID.Remote(); !ok || id != 17 {
		t.Fatalf("expected remote 17, got %v", n.ID)
	}
	if err := json.Unmarshal([]byte(`{"id": "a1b2", "type": "system"}`), &n); err != nil {
		t.Fatalf("decode local: %v", err)
	}
	if !n.ID.IsLocal() || n.ID.String() != "a1b2" {
		t.Fatalf("expected local a1b2, got %v", n.ID)
	}
	if got := ParseID("12"); !got.IsRemote() {
		t.Fatalf("expected decimal string to parse as remote")
	}
}
