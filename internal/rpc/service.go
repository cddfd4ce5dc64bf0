package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joshp123/robofleet/internal/backend"
	"github.com/joshp123/robofleet/internal/core"
	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/notify"
	"github.com/joshp123/robofleet/internal/rate"
)

// RobotDirectory is the robot record management surface of the backend.
type RobotDirectory interface {
	Robots(ctx context.Context) ([]fleet.Robot, error)
	UpdateRobot(ctx context.Context, robotID string, update backend.RobotUpdate) (fleet.Robot, error)
	DeleteRobot(ctx context.Context, robotID string) error
}

type Deps struct {
	Session       *fleet.Session
	Notifications *notify.Aggregator
	// Robots is optional; record management is unavailable without it.
	Robots RobotDirectory
	Logger *slog.Logger
}

// Service exposes the session and notifications over gRPC and reports
// itself as the "fleet" component.
type Service struct {
	session *fleet.Session
	notes   *notify.Aggregator
	robots  RobotDirectory
	log     *slog.Logger

	mu        sync.Mutex
	syncErr   error
	lastFault *fleet.Fault

	stopWatch func()
}

var _ FleetServer = (*Service)(nil)

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		session: deps.Session,
		notes:   deps.Notifications,
		robots:  deps.Robots,
		log:     logger,
	}
	s.stopWatch = deps.Session.Watch(s.onSnapshot)
	return s
}

// OnFault records subscription faults for health reporting. Wire it into
// fleet.Options.OnFault.
func (s *Service) OnFault(f fleet.Fault) {
	if !f.Fatal {
		return
	}
	s.mu.Lock()
	s.lastFault = &f
	s.mu.Unlock()
}

// onSnapshot raises battery notifications from realtime pushes.
func (s *Service) onSnapshot(snap fleet.Snapshot) {
	if s.notes == nil || snap.State != fleet.Attached || !snap.RealtimeSeen {
		return
	}
	robot := s.session.Robot()
	if robot.ID != snap.RobotID {
		return
	}
	s.notes.BatteryLow(context.Background(), snap.RobotID, robot.Static.Name, snap.Realtime.BatteryLevel)
}

// RunSync merges the server notification list every interval until ctx ends.
func (s *Service) RunSync(ctx context.Context, interval time.Duration) {
	if s.notes == nil || interval <= 0 {
		return
	}
	s.syncOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) {
	stats, err := s.notes.Sync(ctx)
	s.mu.Lock()
	s.syncErr = err
	s.mu.Unlock()
	if err != nil {
		var limitErr *rate.LimitError
		if errors.As(err, &limitErr) {
			s.log.Debug("notification sync deferred", "error", err)
			return
		}
		s.log.Warn("notification sync failed", "error", err)
		return
	}
	if stats.Added > 0 || stats.Updated > 0 {
		s.log.Info("notifications synced", "added", stats.Added, "updated", stats.Updated)
	}
}

func (s *Service) Close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
}

func (s *Service) Manifest() core.Manifest {
	return core.Manifest{
		ID:          "fleet",
		DisplayName: "Fleet session",
		Services:    []string{FleetServiceName},
	}
}

func (s *Service) Collectors() []prometheus.Collector {
	collectors := []prometheus.Collector{fleet.NewMetricsCollector(s.session)}
	collectors = append(collectors, fleet.MetricsCollectors()...)
	collectors = append(collectors, notify.MetricsCollectors()...)
	collectors = append(collectors, rate.MetricsCollectors()...)
	collectors = append(collectors, backend.MetricsCollectors()...)
	return collectors
}

func (s *Service) Health() core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFault != nil || s.syncErr != nil {
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (s *Service) HealthMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.lastFault != nil:
		return fmt.Sprintf("robot %s %s: %v", s.lastFault.RobotID, s.lastFault.Channel, s.lastFault.Err)
	case s.syncErr != nil:
		return "notification sync: " + s.syncErr.Error()
	default:
		return ""
	}
}

func (s *Service) RegisterGRPC(server *grpc.Server) {
	RegisterFleetServer(server, s)
}

func (s *Service) GetSession(_ context.Context, _ *Empty) (*SessionState, error) {
	return s.state(), nil
}

func (s *Service) SelectRobot(ctx context.Context, req *RobotRequest) (*SessionState, error) {
	if req.RobotID == "" {
		return nil, status.Error(codes.InvalidArgument, "robot_id is required")
	}
	if err := s.session.Select(ctx, req.RobotID); err != nil {
		return nil, mapError("select robot", err)
	}
	s.mu.Lock()
	s.lastFault = nil
	s.mu.Unlock()
	return s.state(), nil
}

func (s *Service) Deselect(_ context.Context, _ *Empty) (*SessionState, error) {
	s.session.Deselect()
	return s.state(), nil
}

func (s *Service) AcquireControl(ctx context.Context, _ *Empty) (*ResultResponse, error) {
	return result(s.session.Acquire(ctx)), nil
}

func (s *Service) ReleaseControl(ctx context.Context, _ *Empty) (*ResultResponse, error) {
	return result(s.session.Release(ctx)), nil
}

func (s *Service) SendCommand(ctx context.Context, req *CommandRequest) (*ResultResponse, error) {
	cmd, err := fleet.ParseCommand(req.Command)
	if err != nil {
		return nil, mapError("send command", err)
	}
	if s.session.Send(ctx, cmd) {
		return &ResultResponse{OK: true}, nil
	}
	return &ResultResponse{OK: false, Message: s.session.Errors().Message()}, nil
}

func (s *Service) ListRobots(ctx context.Context, _ *Empty) (*RobotList, error) {
	if s.robots == nil {
		return nil, status.Error(codes.Unimplemented, "robot directory not configured")
	}
	robots, err := s.robots.Robots(ctx)
	if err != nil {
		return nil, mapError("list robots", err)
	}
	return &RobotList{Robots: robots}, nil
}

func (s *Service) UpdateRobot(ctx context.Context, req *UpdateRobotRequest) (*RobotResponse, error) {
	if s.robots == nil {
		return nil, status.Error(codes.Unimplemented, "robot directory not configured")
	}
	if req.RobotID == "" {
		return nil, status.Error(codes.InvalidArgument, "robot_id is required")
	}
	robot, err := s.robots.UpdateRobot(ctx, req.RobotID, backend.RobotUpdate{Name: req.Name})
	if err != nil {
		return nil, mapError("update robot", err)
	}
	return &RobotResponse{Robot: robot}, nil
}

func (s *Service) DeleteRobot(ctx context.Context, req *RobotRequest) (*Empty, error) {
	if s.robots == nil {
		return nil, status.Error(codes.Unimplemented, "robot directory not configured")
	}
	if req.RobotID == "" {
		return nil, status.Error(codes.InvalidArgument, "robot_id is required")
	}
	if err := s.robots.DeleteRobot(ctx, req.RobotID); err != nil {
		return nil, mapError("delete robot", err)
	}
	if s.session.Snapshot().RobotID == req.RobotID {
		s.session.Deselect()
	}
	return &Empty{}, nil
}

func (s *Service) ListNotifications(_ context.Context, _ *Empty) (*NotificationList, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	return s.notificationList(), nil
}

func (s *Service) SyncNotifications(ctx context.Context, req *SyncRequest) (*NotificationList, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	var err error
	if req.Replace {
		err = s.notes.Refresh(ctx)
	} else {
		_, err = s.notes.Sync(ctx)
	}
	s.mu.Lock()
	s.syncErr = err
	s.mu.Unlock()
	if err != nil {
		return nil, mapError("sync notifications", err)
	}
	return s.notificationList(), nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, req *NotificationRequest) (*Empty, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	if err := s.notes.MarkRead(ctx, notify.ParseID(req.ID)); err != nil {
		return nil, mapError("mark notification read", err)
	}
	return &Empty{}, nil
}

func (s *Service) DeleteNotification(ctx context.Context, req *NotificationRequest) (*Empty, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	if err := s.notes.Delete(ctx, notify.ParseID(req.ID)); err != nil {
		return nil, mapError("delete notification", err)
	}
	return &Empty{}, nil
}

func (s *Service) ClearNotifications(ctx context.Context, _ *Empty) (*ClearResponse, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	res := s.notes.ClearAll(ctx)
	resp := &ClearResponse{Removed: res.Removed}
	for _, id := range res.Failed {
		resp.Failed = append(resp.Failed, id.String())
	}
	if err := res.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

func (s *Service) ListAccessRequests(ctx context.Context, _ *Empty) (*AccessRequestList, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	pending, err := s.notes.AccessRequests(ctx)
	if err != nil {
		return nil, mapError("list access requests", err)
	}
	return &AccessRequestList{Requests: pending}, nil
}

func (s *Service) ResolveAccessRequest(ctx context.Context, req *AccessDecision) (*Empty, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	if req.RequestID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}
	var err error
	if req.Approve {
		err = s.notes.Approve(ctx, req.RequestID)
	} else {
		err = s.notes.Deny(ctx, req.RequestID)
	}
	if err != nil {
		return nil, mapError("resolve access request", err)
	}
	return &Empty{}, nil
}

func (s *Service) GetNotificationSettings(_ context.Context, _ *Empty) (*SettingsMessage, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	return &SettingsMessage{Settings: s.notes.Settings()}, nil
}

func (s *Service) UpdateNotificationSettings(ctx context.Context, req *SettingsMessage) (*SettingsMessage, error) {
	if err := s.requireNotes(); err != nil {
		return nil, err
	}
	s.notes.SetSettings(ctx, req.Settings)
	return &SettingsMessage{Settings: s.notes.Settings()}, nil
}

func (s *Service) requireNotes() error {
	if s.notes == nil {
		return status.Error(codes.FailedPrecondition, "notifications not configured")
	}
	return nil
}

func (s *Service) notificationList() *NotificationList {
	return &NotificationList{
		Notifications: s.notes.List(),
		Unread:        s.notes.Unread(),
	}
}

func (s *Service) state() *SessionState {
	return &SessionState{
		User:             s.session.User(),
		Robot:            s.session.Robot(),
		State:            s.session.Snapshot().State,
		Controlling:      s.session.IsCurrentUserControlling(),
		CommandsInFlight: s.session.CommandsInFlight(),
		LastError:        s.session.Errors().Message(),
	}
}

func result(r fleet.Result) *ResultResponse {
	return &ResultResponse{OK: r.OK, Message: r.Message, Stale: r.Stale}
}

// RegistryService serves component discovery.
type RegistryService struct {
	registry *core.Registry
}

var _ RegistryServer = (*RegistryService)(nil)

func NewRegistryService(registry *core.Registry) *RegistryService {
	return &RegistryService{registry: registry}
}

func (r *RegistryService) ListComponents(_ context.Context, _ *Empty) (*ComponentList, error) {
	return &ComponentList{Components: r.registry.List()}, nil
}

func (r *RegistryService) DescribeComponent(_ context.Context, req *ComponentRequest) (*ComponentList, error) {
	summary, ok := r.registry.Describe(req.ID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "component %q not found", req.ID)
	}
	return &ComponentList{Components: []core.Summary{summary}}, nil
}
