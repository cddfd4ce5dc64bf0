package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/notify"
	"github.com/joshp123/robofleet/internal/realtime"
)

// Demo is an in-process backend for UI development. Control and command
// requests are answered the way the real service does: the response only
// accepts the request and the state change arrives later as a push.
type Demo struct {
	store *realtime.Memory
	user  fleet.Identity
	log   *slog.Logger
	delay time.Duration

	mu            sync.Mutex
	robots        map[string]fleet.Robot
	notifications []notify.Notification
	requests      []notify.AccessRequest
	nextID        int64
}

var (
	_ fleet.API  = (*Demo)(nil)
	_ notify.API = (*Demo)(nil)
)

// NewDemo seeds a small fleet into store. delay postpones pushes that
// follow an accepted request.
func NewDemo(store *realtime.Memory, user fleet.Identity, delay time.Duration, logger *slog.Logger) *Demo {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Demo{
		store:  store,
		user:   user,
		log:    logger,
		delay:  delay,
		robots: make(map[string]fleet.Robot),
		nextID: 100,
	}
	now := time.Now().UTC()
	d.seed(fleet.Robot{
		ID:     "rover-1",
		Static: fleet.Static{Owner: user.ID, Name: "Rover"},
		Realtime: fleet.Realtime{
			BatteryLevel: 82,
			Location:     fleet.Location{Latitude: 52.3702, Longitude: 4.8952},
			Storage:      map[string]float64{"plastic": 35, "glass": 10},
			LiveStream:   fleet.Stream{Active: true, URL: "rtsp://demo.local/rover-1"},
		},
	})
	d.seed(fleet.Robot{
		ID:     "digger-2",
		Static: fleet.Static{Owner: "u-ops", Name: "Digger"},
		Realtime: fleet.Realtime{
			BatteryLevel: 14,
			Location:     fleet.Location{Latitude: 52.3676, Longitude: 4.9041},
			Storage:      map[string]float64{"organic": 90},
		},
		Control: fleet.Control{ControllerUserID: "u-ops", ControllerUserName: "Ops"},
	})
	d.notifications = []notify.Notification{{
		ID:        notify.RemoteID(1),
		Type:      notify.TypeAccessRequest,
		Title:     "Access request",
		Message:   "Sam asked to drive Rover",
		RobotID:   "rover-1",
		Timestamp: now,
		Data:      map[string]any{"request_id": float64(7)},
	}}
	d.requests = []notify.AccessRequest{{
		ID:            7,
		RobotID:       "rover-1",
		RobotName:     "Rover",
		RequesterID:   "u-sam",
		RequesterName: "Sam",
		Status:        "pending",
		CreatedAt:     now,
	}}
	return d
}

func (d *Demo) seed(robot fleet.Robot) {
	d.robots[robot.ID] = fleet.Robot{ID: robot.ID, Static: robot.Static}
	d.publish(realtime.RealtimePath(robot.ID), robot.Realtime)
	d.publish(realtime.ControlPath(robot.ID), robot.Control)
}

func (d *Demo) Me(context.Context) (fleet.Identity, error) {
	return d.user, nil
}

func (d *Demo) Robots(context.Context) ([]fleet.Robot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]fleet.Robot, 0, len(d.robots))
	for _, r := range d.robots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Demo) Robot(_ context.Context, robotID string) (fleet.Robot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.robots[robotID]
	if !ok {
		return fleet.Robot{}, &APIError{Status: http.StatusNotFound, Detail: "Robot not found"}
	}
	return r, nil
}

func (d *Demo) UpdateRobot(_ context.Context, robotID string, update RobotUpdate) (fleet.Robot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.robots[robotID]
	if !ok {
		return fleet.Robot{}, &APIError{Status: http.StatusNotFound, Detail: "Robot not found"}
	}
	if update.Name != nil {
		r.Static.Name = *update.Name
	}
	d.robots[robotID] = r
	return r, nil
}

func (d *Demo) DeleteRobot(_ context.Context, robotID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.robots[robotID]; !ok {
		return &APIError{Status: http.StatusNotFound, Detail: "Robot not found"}
	}
	delete(d.robots, robotID)
	return nil
}

func (d *Demo) AcquireControl(ctx context.Context, robotID string) error {
	ctrl, err := d.control(ctx, robotID)
	if err != nil {
		return err
	}
	if ctrl.Held() && ctrl.ControllerUserID != d.user.ID {
		return &APIError{Status: http.StatusConflict, Detail: "Robot is controlled by another user"}
	}
	d.later(realtime.ControlPath(robotID), fleet.Control{ControllerUserID: d.user.ID, ControllerUserName: d.user.Name})
	return nil
}

func (d *Demo) ReleaseControl(ctx context.Context, robotID string) error {
	ctrl, err := d.control(ctx, robotID)
	if err != nil {
		return err
	}
	if ctrl.ControllerUserID != d.user.ID {
		return &APIError{Status: http.StatusForbidden, Detail: "You do not control this robot"}
	}
	d.later(realtime.ControlPath(robotID), fleet.Control{})
	return nil
}

// SendCommand nudges the robot's position and battery.
func (d *Demo) SendCommand(ctx context.Context, robotID string, cmd fleet.Command) error {
	if _, err := d.Robot(ctx, robotID); err != nil {
		return err
	}
	raw, err := d.store.Get(ctx, realtime.RealtimePath(robotID))
	if err != nil {
		return fmt.Errorf("read realtime: %w", err)
	}
	var rt fleet.Realtime
	if err := json.Unmarshal(raw, &rt); err != nil {
		return fmt.Errorf("decode realtime: %w", err)
	}
	const step = 0.0001
	switch cmd {
	case fleet.CommandUp:
		rt.Location.Latitude += step
	case fleet.CommandDown:
		rt.Location.Latitude -= step
	case fleet.CommandLeft:
		rt.Location.Longitude -= step
	case fleet.CommandRight:
		rt.Location.Longitude += step
	case fleet.CommandReturnHome:
		rt.Location = fleet.Location{Latitude: 52.3702, Longitude: 4.8952}
	case fleet.CommandPause:
		rt.LiveStream.Active = false
	case fleet.CommandResume:
		rt.LiveStream.Active = true
	}
	if rt.BatteryLevel > 0 {
		rt.BatteryLevel -= 0.5
	}
	d.later(realtime.RealtimePath(robotID), rt)
	return nil
}

func (d *Demo) Notifications(context.Context) ([]notify.Notification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Notification(nil), d.notifications...), nil
}

func (d *Demo) MarkNotificationRead(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.notifications {
		if remote, _ := d.notifications[i].ID.Remote(); remote == id {
			d.notifications[i].Read = true
			return nil
		}
	}
	return &APIError{Status: http.StatusNotFound, Detail: "Notification not found"}
}

func (d *Demo) DeleteNotification(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.notifications {
		if remote, _ := d.notifications[i].ID.Remote(); remote == id {
			d.notifications = append(d.notifications[:i], d.notifications[i+1:]...)
			return nil
		}
	}
	return &APIError{Status: http.StatusNotFound, Detail: "Notification not found"}
}

func (d *Demo) AccessRequests(context.Context) ([]notify.AccessRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.AccessRequest(nil), d.requests...), nil
}

func (d *Demo) ApproveAccess(_ context.Context, requestID int64) error {
	return d.resolve(requestID)
}

func (d *Demo) DenyAccess(_ context.Context, requestID int64) error {
	return d.resolve(requestID)
}

func (d *Demo) resolve(requestID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.requests {
		if r.ID == requestID {
			d.requests = append(d.requests[:i], d.requests[i+1:]...)
			return nil
		}
	}
	return &APIError{Status: http.StatusNotFound, Detail: "Access request not found"}
}

func (d *Demo) control(ctx context.Context, robotID string) (fleet.Control, error) {
	if _, err := d.Robot(ctx, robotID); err != nil {
		return fleet.Control{}, err
	}
	var ctrl fleet.Control
	raw, err := d.store.Get(ctx, realtime.ControlPath(robotID))
	if err != nil {
		return ctrl, nil
	}
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		return fleet.Control{}, fmt.Errorf("decode control: %w", err)
	}
	return ctrl, nil
}

func (d *Demo) later(path string, value any) {
	if d.delay <= 0 {
		d.publish(path, value)
		return
	}
	time.AfterFunc(d.delay, func() { d.publish(path, value) })
}

func (d *Demo) publish(path string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		d.log.Error("encode demo push failed", "path", path, "error", err)
		return
	}
	d.store.Publish(path, data)
}
