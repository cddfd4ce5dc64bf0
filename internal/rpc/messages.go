package rpc

import (
	"github.com/joshp123/robofleet/internal/core"
	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/notify"
)

type Empty struct{}

type RobotRequest struct {
	RobotID string `json:"robot_id"`
}

type CommandRequest struct {
	Command string `json:"command"`
}

// ResultResponse mirrors fleet.Result for control and command calls.
type ResultResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Stale   bool   `json:"stale,omitempty"`
}

type SessionState struct {
	User             fleet.Identity `json:"user"`
	Robot            fleet.Robot    `json:"robot"`
	State            fleet.State    `json:"state"`
	Controlling      bool           `json:"controlling"`
	CommandsInFlight int            `json:"commands_in_flight"`
	LastError        string         `json:"last_error,omitempty"`
}

type RobotList struct {
	Robots []fleet.Robot `json:"robots"`
}

type UpdateRobotRequest struct {
	RobotID string  `json:"robot_id"`
	Name    *string `json:"name,omitempty"`
}

type RobotResponse struct {
	Robot fleet.Robot `json:"robot"`
}

type NotificationList struct {
	Notifications []notify.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

type SyncRequest struct {
	// Replace swaps the remote set instead of merging into it.
	Replace bool `json:"replace,omitempty"`
}

type NotificationRequest struct {
	ID string `json:"id"`
}

type ClearResponse struct {
	Removed int      `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type AccessRequestList struct {
	Requests []notify.PendingAccess `json:"requests"`
}

type AccessDecision struct {
	RequestID int64 `json:"request_id"`
	Approve   bool  `json:"approve"`
}

type SettingsMessage struct {
	Settings notify.Settings `json:"settings"`
}

type ComponentRequest struct {
	ID string `json:"id"`
}

type ComponentList struct {
	Components []core.Summary `json:"components"`
}
