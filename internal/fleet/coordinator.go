package fleet

import (
	"context"
	"fmt"
	"log/slog"
)

// Coordinator mediates exclusive control of the selected robot. The
// pushed control snapshot is the only source of truth; nothing here
// writes it.
type Coordinator struct {
	subs       *Subscriptions
	dispatcher *Dispatcher
	user       Identity
	log        *slog.Logger
}

func NewCoordinator(user Identity, subs *Subscriptions, dispatcher *Dispatcher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{subs: subs, dispatcher: dispatcher, user: user, log: logger}
}

// IsCurrentUserControlling is derived from the control snapshot on every call.
func (c *Coordinator) IsCurrentUserControlling() bool {
	return controlledBy(c.subs.Control(), c.user)
}

// Acquire requests control of robotID. A robot held by someone else fails
// locally without a backend call.
func (c *Coordinator) Acquire(ctx context.Context, robotID string) Result {
	if err := c.requireSelected(robotID); err != nil {
		return c.fail("acquire", "unselected", err)
	}

	ctrl := c.subs.Control()
	if ctrl.Held() {
		if controlledBy(ctrl, c.user) {
			controlRequests.WithLabelValues("acquire", "held").Inc()
			c.dispatcher.errs.Clear()
			return Result{OK: true, Message: "already controlling"}
		}
		return c.fail("acquire", "busy", &BusyError{Holder: ctrl.HolderName()})
	}

	if err := c.dispatcher.acquire(ctx, robotID); err != nil {
		return c.fail("acquire", "error", fmt.Errorf("acquire control: %w", err))
	}
	controlRequests.WithLabelValues("acquire", "ok").Inc()
	c.dispatcher.errs.Clear()
	c.log.Info("control requested", "robot_id", robotID, "user_id", c.user.ID)
	return Result{OK: true, Stale: c.subs.CurrentRobot() != robotID}
}

// Release gives up control. The local snapshot keeps naming this user
// until the store pushes the change.
func (c *Coordinator) Release(ctx context.Context, robotID string) Result {
	if err := c.requireSelected(robotID); err != nil {
		return c.fail("release", "unselected", err)
	}
	if !c.IsCurrentUserControlling() {
		return c.fail("release", "not_controller", ErrNotController)
	}

	if err := c.dispatcher.release(ctx, robotID); err != nil {
		return c.fail("release", "error", fmt.Errorf("release control: %w", err))
	}
	controlRequests.WithLabelValues("release", "ok").Inc()
	c.dispatcher.errs.Clear()
	c.log.Info("control release requested", "robot_id", robotID, "user_id", c.user.ID)
	return Result{OK: true, Stale: c.subs.CurrentRobot() != robotID}
}

// requireSelected accepts only a fully attached slot; while attaching the
// control snapshot is still a placeholder.
func (c *Coordinator) requireSelected(robotID string) error {
	snap := c.subs.Snapshot()
	current := snap.RobotID
	if current == "" || robotID == "" {
		return ErrNoRobotSelected
	}
	if snap.State != Attached {
		return fmt.Errorf("%w: %s is still attaching", ErrNoRobotSelected, current)
	}
	if current != robotID {
		return fmt.Errorf("%w: %s is not the selected robot", ErrNoRobotSelected, robotID)
	}
	return nil
}

func (c *Coordinator) fail(op, reason string, err error) Result {
	controlRequests.WithLabelValues(op, reason).Inc()
	c.dispatcher.errs.Set(err.Error())
	c.log.Warn("control "+op+" failed", "reason", reason, "error", err)
	return failure(err)
}

func controlledBy(ctrl Control, user Identity) bool {
	return user.ID != "" && ctrl.ControllerUserID == user.ID
}
