package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

type Type string

const (
	TypeBatteryLow     Type = "battery_low"
	TypeStorageFull    Type = "storage_full"
	TypeRobotOffline   Type = "robot_offline"
	TypeControlChanged Type = "control_changed"
	TypeAccessRequest  Type = "access_request"
	TypeSystem         Type = "system"
)

func Types() []Type {
	return []Type{
		TypeBatteryLow,
		TypeStorageFull,
		TypeRobotOffline,
		TypeControlChanged,
		TypeAccessRequest,
		TypeSystem,
	}
}

type Notification struct {
	ID        ID             `json:"id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	RobotID   string         `json:"robot_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Read      bool           `json:"read"`
	Data      map[string]any `json:"data,omitempty"`
}

// RequestID returns data.request_id for access request notifications.
func (n Notification) RequestID() (int64, bool) {
	raw, ok := n.Data["request_id"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Settings toggles notification types. Types missing from Enabled are on.
type Settings struct {
	Enabled map[Type]bool `json:"enabled"`
}

func DefaultSettings() Settings {
	enabled := make(map[Type]bool, len(Types()))
	for _, t := range Types() {
		enabled[t] = true
	}
	return Settings{Enabled: enabled}
}

func (s Settings) Allows(t Type) bool {
	if v, ok := s.Enabled[t]; ok {
		return v
	}
	return true
}

func (s Settings) clone() Settings {
	out := Settings{Enabled: make(map[Type]bool, len(s.Enabled))}
	for k, v := range s.Enabled {
		out.Enabled[k] = v
	}
	return out
}

type AccessRequest struct {
	ID            int64     `json:"id"`
	RobotID       string    `json:"robot_id"`
	RobotName     string    `json:"robot_name,omitempty"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	Status        string    `json:"status,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PendingAccess pairs a pending request with its unread notification, if any.
type PendingAccess struct {
	Request      AccessRequest `json:"request"`
	Notification *Notification `json:"notification,omitempty"`
}

// API is the slice of the backend the aggregator talks to.
type API interface {
	Notifications(ctx context.Context) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	DeleteNotification(ctx context.Context, id int64) error
	AccessRequests(ctx context.Context) ([]AccessRequest, error)
	ApproveAccess(ctx context.Context, requestID int64) error
	DenyAccess(ctx context.Context, requestID int64) error
}
