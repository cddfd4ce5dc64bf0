package fleet

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// API is the slice of the backend the session core calls.
type API interface {
	Robot(ctx context.Context, robotID string) (Robot, error)
	AcquireControl(ctx context.Context, robotID string) error
	ReleaseControl(ctx context.Context, robotID string) error
	SendCommand(ctx context.Context, robotID string, cmd Command) error
}

// Dispatcher forwards requests to the backend. It trusts its caller to
// have checked control and never touches the pushed snapshots: a true
// result means the backend accepted the request, not that the robot moved.
type Dispatcher struct {
	api      API
	errs     *ErrorSlot
	log      *slog.Logger
	inFlight atomic.Int64
}

func NewDispatcher(api API, errs *ErrorSlot, logger *slog.Logger) *Dispatcher {
	if errs == nil {
		errs = &ErrorSlot{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{api: api, errs: errs, log: logger}
}

// Send dispatches one command. Overlapping sends are not serialised.
func (d *Dispatcher) Send(ctx context.Context, robotID string, cmd Command) bool {
	if robotID == "" {
		d.errs.Set(ErrNoRobotSelected.Error())
		commandsTotal.WithLabelValues(string(cmd), "rejected").Inc()
		return false
	}
	if !cmd.Valid() {
		d.errs.Set(ErrUnknownCommand.Error() + ": " + string(cmd))
		commandsTotal.WithLabelValues("invalid", "rejected").Inc()
		return false
	}

	d.inFlight.Add(1)
	commandsInFlight.Inc()
	defer func() {
		d.inFlight.Add(-1)
		commandsInFlight.Dec()
	}()

	if err := d.api.SendCommand(ctx, robotID, cmd); err != nil {
		d.errs.Set(err.Error())
		commandsTotal.WithLabelValues(string(cmd), "error").Inc()
		d.log.Warn("command failed", "robot_id", robotID, "command", cmd, "error", err)
		return false
	}
	commandsTotal.WithLabelValues(string(cmd), "accepted").Inc()
	d.errs.Clear()
	d.log.Debug("command accepted", "robot_id", robotID, "command", cmd)
	return true
}

// InFlight is the number of commands awaiting a backend response.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

func (d *Dispatcher) Errors() *ErrorSlot {
	return d.errs
}

func (d *Dispatcher) acquire(ctx context.Context, robotID string) error {
	return d.api.AcquireControl(ctx, robotID)
}

func (d *Dispatcher) release(ctx context.Context, robotID string) error {
	return d.api.ReleaseControl(ctx, robotID)
}
