package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshp123/robofleet/internal/realtime"
)

// Options configures a Session.
type Options struct {
	Logger  *slog.Logger
	OnFault func(Fault)
}

// Session is the owned state of one signed-in client: the selected robot
// slot, control coordination and command dispatch.
type Session struct {
	user       Identity
	api        API
	subs       *Subscriptions
	dispatcher *Dispatcher
	coord      *Coordinator
	errs       *ErrorSlot
	log        *slog.Logger

	// selMu orders the detach-then-attach step of concurrent selections.
	selMu sync.Mutex

	mu     sync.Mutex
	static Static
	// selection is bumped by every Select and Deselect; a fetch that
	// returns after it moved on must not touch the slot.
	selection uint64
}

func NewSession(user Identity, api API, store realtime.Store, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errs := &ErrorSlot{}
	onFault := func(f Fault) {
		if f.Fatal {
			errs.Set(f.Err.Error())
		}
		if opts.OnFault != nil {
			opts.OnFault(f)
		}
	}
	subs := NewSubscriptions(store, SubscriptionOptions{Logger: logger.With("component", "subscriptions"), OnFault: onFault})
	dispatcher := NewDispatcher(api, errs, logger.With("component", "dispatcher"))
	return &Session{
		user:       user,
		api:        api,
		subs:       subs,
		dispatcher: dispatcher,
		coord:      NewCoordinator(user, subs, dispatcher, logger.With("component", "coordinator")),
		errs:       errs,
		log:        logger,
	}
}

// Select makes robotID the current robot: backend record first, then
// detach-then-attach of the listener pair. A Select overtaken by a later
// Select or Deselect returns ErrSelectionSuperseded and leaves the slot alone.
func (s *Session) Select(ctx context.Context, robotID string) error {
	if robotID == "" {
		return ErrNoRobotSelected
	}
	seq := s.nextSelection()

	record, err := s.api.Robot(ctx, robotID)
	if !s.isSelection(seq) {
		s.log.Debug("dropping superseded selection", "robot_id", robotID)
		return fmt.Errorf("select %s: %w", robotID, ErrSelectionSuperseded)
	}
	if err != nil {
		s.errs.Set(err.Error())
		return fmt.Errorf("fetch robot %s: %w", robotID, err)
	}

	s.selMu.Lock()
	defer s.selMu.Unlock()
	if !s.isSelection(seq) {
		return fmt.Errorf("select %s: %w", robotID, ErrSelectionSuperseded)
	}

	s.subs.Detach()
	s.setStatic(Static{})
	if err := s.subs.Attach(ctx, robotID); err != nil {
		s.errs.Set(err.Error())
		return err
	}
	if !s.isSelection(seq) {
		return fmt.Errorf("select %s: %w", robotID, ErrSelectionSuperseded)
	}
	s.setStatic(record.Static)
	s.errs.Clear()
	return nil
}

// Deselect detaches the current robot.
func (s *Session) Deselect() {
	s.nextSelection()
	s.selMu.Lock()
	defer s.selMu.Unlock()
	s.subs.Detach()
	s.setStatic(Static{})
}

func (s *Session) Close() {
	s.subs.Close()
}

func (s *Session) User() Identity {
	return s.user
}

func (s *Session) Robot() Robot {
	snap := s.subs.Snapshot()
	s.mu.Lock()
	static := s.static
	s.mu.Unlock()
	return Robot{
		ID:       snap.RobotID,
		Static:   static,
		Realtime: snap.Realtime,
		Control:  snap.Control,
	}
}

func (s *Session) Snapshot() Snapshot {
	return s.subs.Snapshot()
}

func (s *Session) Watch(fn func(Snapshot)) func() {
	return s.subs.Watch(fn)
}

func (s *Session) IsCurrentUserControlling() bool {
	return s.coord.IsCurrentUserControlling()
}

func (s *Session) Acquire(ctx context.Context) Result {
	return s.coord.Acquire(ctx, s.subs.CurrentRobot())
}

func (s *Session) Release(ctx context.Context) Result {
	return s.coord.Release(ctx, s.subs.CurrentRobot())
}

// Send dispatches cmd to the current robot when this user holds control,
// mirroring a UI that disables its controls otherwise.
func (s *Session) Send(ctx context.Context, cmd Command) bool {
	if !s.coord.IsCurrentUserControlling() {
		s.errs.Set(ErrNotController.Error())
		commandsTotal.WithLabelValues(string(cmd), "not_controller").Inc()
		return false
	}
	return s.dispatcher.Send(ctx, s.subs.CurrentRobot(), cmd)
}

func (s *Session) CommandsInFlight() int {
	return s.dispatcher.InFlight()
}

func (s *Session) Errors() *ErrorSlot {
	return s.errs
}

func (s *Session) nextSelection() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection++
	return s.selection
}

func (s *Session) isSelection(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection == seq
}

func (s *Session) setStatic(static Static) {
	s.mu.Lock()
	s.static = static
	s.mu.Unlock()
}
