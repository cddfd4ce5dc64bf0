package rpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joshp123/robofleet/internal/backend"
	"github.com/joshp123/robofleet/internal/core"
	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/kv"
	"github.com/joshp123/robofleet/internal/notify"
	"github.com/joshp123/robofleet/internal/realtime"
)

type harness struct {
	client  *Client
	service *Service
	store   *realtime.Memory
}

func newHarness(t *testing.T, user fleet.Identity) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := realtime.NewMemory()
	demo := backend.NewDemo(store, user, 0, logger)

	var svc *Service
	session := fleet.NewSession(user, demo, store, fleet.Options{
		Logger: logger,
		OnFault: func(f fleet.Fault) {
			if svc != nil {
				svc.OnFault(f)
			}
		},
	})
	notes := notify.NewAggregator(demo, kv.NewMemory(), notify.Options{Logger: logger})
	svc = NewService(Deps{Session: session, Notifications: notes, Robots: demo, Logger: logger})

	registry, err := core.NewRegistry(svc)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	registry.RegisterGRPC(server)
	RegisterRegistryServer(server, NewRegistryService(registry))
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		server.Stop()
		svc.Close()
		session.Close()
	})
	return &harness{client: NewClient(conn), service: svc, store: store}
}

func TestSelectAcquireSend(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	ctx := context.Background()

	state, err := h.client.Select(ctx, "rover-1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if state.State != fleet.Attached || state.Robot.Static.Name != "Rover" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.Controlling {
		t.Fatalf("expected no control before acquire")
	}

	res, err := h.client.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected acquire ok, got %+v", res)
	}
	state, err = h.client.Session(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !state.Controlling {
		t.Fatalf("expected control after push")
	}

	res, err = h.client.Send(ctx, "forward")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected command accepted, got %+v", res)
	}

	res, err = h.client.Release(ctx)
	if err != nil || !res.OK {
		t.Fatalf("release: %+v %v", res, err)
	}
	state, _ = h.client.Session(ctx)
	if state.Controlling {
		t.Fatalf("expected control cleared by push")
	}
}

func TestAcquireBusy(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	ctx := context.Background()

	if _, err := h.client.Select(ctx, "digger-2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	res, err := h.client.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if res.OK || res.Message != "busy, held by Ops" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendRejectsUnknownCommand(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	_, err := h.client.Send(context.Background(), "jump")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestSelectUnknownRobot(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	_, err := h.client.Select(context.Background(), "ghost")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestBatteryPushRaisesNotification(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	ctx := context.Background()

	if _, err := h.client.Select(ctx, "digger-2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	list, err := h.client.Notifications(ctx, false, false)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	var battery int
	for _, n := range list.Notifications {
		if n.Type == notify.TypeBatteryLow && n.RobotID == "digger-2" {
			battery++
		}
	}
	if battery != 1 {
		t.Fatalf("expected one battery notification, got %d", battery)
	}
}

func TestEmptyBatteryPushRaisesNotification(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	ctx := context.Background()

	if _, err := h.client.Select(ctx, "rover-1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	h.store.Publish(realtime.RealtimePath("rover-1"), []byte(`{"battery_level":0}`))

	list, err := h.client.Notifications(ctx, false, false)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	for _, n := range list.Notifications {
		if n.Type == notify.TypeBatteryLow && n.RobotID == "rover-1" {
			return
		}
	}
	t.Fatalf("expected battery notification for an empty battery, got %+v", list.Notifications)
}

func TestNotificationsAndAccess(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	ctx := context.Background()

	list, err := h.client.Notifications(ctx, true, false)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if list.Unread != 1 {
		t.Fatalf("expected one unread, got %d", list.Unread)
	}

	pending, err := h.client.AccessRequests(ctx)
	if err != nil {
		t.Fatalf("access requests: %v", err)
	}
	if len(pending.Requests) != 1 || pending.Requests[0].Notification == nil {
		t.Fatalf("expected joined request, got %+v", pending.Requests)
	}
	if err := h.client.ResolveAccess(ctx, 7, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	list, _ = h.client.Notifications(ctx, false, false)
	if list.Unread != 0 {
		t.Fatalf("expected request notification read, got %d unread", list.Unread)
	}

	if err := h.client.MarkRead(ctx, "not-there"); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	cleared, err := h.client.ClearNotifications(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Removed != 1 || len(cleared.Failed) != 0 {
		t.Fatalf("unexpected clear result: %+v", cleared)
	}
}

func TestRobotDirectory(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	ctx := context.Background()

	robots, err := h.client.Robots(ctx)
	if err != nil {
		t.Fatalf("robots: %v", err)
	}
	if len(robots.Robots) != 2 {
		t.Fatalf("expected two robots, got %d", len(robots.Robots))
	}
	renamed, err := h.client.RenameRobot(ctx, "rover-1", "Scout")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Robot.Static.Name != "Scout" {
		t.Fatalf("unexpected robot: %+v", renamed.Robot)
	}
	if err := h.client.DeleteRobot(ctx, "digger-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestRegistryComponents(t *testing.T) {
	h := newHarness(t, fleet.Identity{ID: "u1", Name: "Ana"})
	list, err := h.client.Components(context.Background())
	if err != nil {
		t.Fatalf("components: %v", err)
	}
	if len(list.Components) != 1 || list.Components[0].ID != "fleet" {
		t.Fatalf("unexpected components: %+v", list.Components)
	}
	if list.Components[0].Status != core.HealthHealthy {
		t.Fatalf("unexpected status: %s", list.Components[0].Status)
	}
}

func TestMapError(t *testing.T) {
	err := mapError("acquire", &backend.APIError{Status: 409, Detail: "Robot is controlled by another user"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	if !strings.Contains(err.Error(), "Robot is controlled by another user") {
		t.Fatalf("expected detail preserved: %v", err)
	}
	if status.Code(mapError("x", realtime.ErrPermissionDenied)) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied")
	}
	if status.Code(mapError("select robot", fleet.ErrSelectionSuperseded)) != codes.Aborted {
		t.Fatalf("expected Aborted for a superseded selection")
	}
}
