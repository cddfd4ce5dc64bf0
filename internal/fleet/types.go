package fleet

import (
	"fmt"
	"sort"
	"strings"
)

// Identity is the authenticated local user.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Location is a GPS fix reported by the robot.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Stream describes the robot's live video feed.
type Stream struct {
	Active bool   `json:"active"`
	URL    string `json:"url,omitempty"`
}

// Realtime is the telemetry snapshot pushed on robots/{id}/realtime_data.
type Realtime struct {
	BatteryLevel float64            `json:"battery_level"`
	Location     Location           `json:"location"`
	Storage      map[string]float64 `json:"storage,omitempty"`
	LiveStream   Stream             `json:"live_stream"`
}

func (r Realtime) clone() Realtime {
	out := r
	if r.Storage != nil {
		out.Storage = make(map[string]float64, len(r.Storage))
		for k, v := range r.Storage {
			out.Storage[k] = v
		}
	}
	return out
}

// WasteTypes returns the storage keys in stable order.
func (r Realtime) WasteTypes() []string {
	out := make([]string, 0, len(r.Storage))
	for k := range r.Storage {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Control is the snapshot pushed on robots/{id}/control. An empty
// ControllerUserID means nobody holds control.
type Control struct {
	ControllerUserID   string `json:"controller_user_id,omitempty"`
	ControllerUserName string `json:"controller_user_name,omitempty"`
}

func (c Control) Held() bool {
	return c.ControllerUserID != ""
}

// HolderName is the display name of the controller, falling back to its id.
func (c Control) HolderName() string {
	if c.ControllerUserName != "" {
		return c.ControllerUserName
	}
	return c.ControllerUserID
}

// Static holds the backend-owned robot fields.
type Static struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// Robot combines the backend record with the latest pushed snapshots.
type Robot struct {
	ID       string   `json:"robot_id"`
	Static   Static   `json:"static"`
	Realtime Realtime `json:"realtime"`
	Control  Control  `json:"control"`
}

// Command is a discrete instruction sent to a robot.
type Command string

const (
	CommandUp         Command = "up"
	CommandDown       Command = "down"
	CommandLeft       Command = "left"
	CommandRight      Command = "right"
	CommandStop       Command = "stop"
	CommandReturnHome Command = "return_home"
	CommandPause      Command = "pause"
	CommandResume     Command = "resume"
)

var commands = []Command{
	CommandUp,
	CommandDown,
	CommandLeft,
	CommandRight,
	CommandStop,
	CommandReturnHome,
	CommandPause,
	CommandResume,
}

func Commands() []Command {
	out := make([]Command, len(commands))
	copy(out, commands)
	return out
}

func (c Command) Valid() bool {
	for _, known := range commands {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCommand accepts the wire names plus a few spellings UI shells send.
func ParseCommand(raw string) (Command, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	switch name {
	case "forward":
		name = string(CommandUp)
	case "backward", "back":
		name = string(CommandDown)
	case "home", "returnhome":
		name = string(CommandReturnHome)
	}
	cmd := Command(name)
	if !cmd.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}
	return cmd, nil
}

// Result is the boolean-plus-message outcome of a control operation.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	// Stale is set when the selected robot changed while the request was in flight.
	Stale bool `json:"stale,omitempty"`
}

func failure(err error) Result {
	return Result{OK: false, Message: err.Error()}
}
