package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshp123/robofleet/internal/realtime"
)

// State is the lifecycle position of the listener pair.
type State int

const (
	Detached State = iota
	Attaching
	Attached
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "detached":
		*s = Detached
	case "attaching":
		*s = Attaching
	case "attached":
		*s = Attached
	default:
		return fmt.Errorf("unknown subscription state %q", text)
	}
	return nil
}

// Channel names one of the two logical push channels.
type Channel string

const (
	ChannelRealtime Channel = "realtime"
	ChannelControl  Channel = "control"
)

func (c Channel) path(robotID string) string {
	if c == ChannelControl {
		return realtime.ControlPath(robotID)
	}
	return realtime.RealtimePath(robotID)
}

// Fault is a delivery problem surfaced to the owner of the subscriptions.
// Fatal faults have already detached the listener pair.
type Fault struct {
	RobotID string
	Channel Channel
	Err     error
	Fatal   bool
}

// Snapshot is a copy of the current robot slot.
type Snapshot struct {
	RobotID  string   `json:"robot_id"`
	State    State    `json:"state"`
	Realtime Realtime `json:"realtime"`
	Control  Control  `json:"control"`

	// RealtimeSeen is false until the realtime channel has delivered once.
	RealtimeSeen bool `json:"realtime_seen"`
}

// SubscriptionOptions configures a Subscriptions.
type SubscriptionOptions struct {
	Logger  *slog.Logger
	OnFault func(Fault)
}

// Subscriptions keeps at most one listener pair live for the current
// robot slot. Push handlers are the only writers of the snapshot.
type Subscriptions struct {
	store   realtime.Store
	log     *slog.Logger
	onFault func(Fault)

	// opMu serialises Attach and Detach; mu guards the slot.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	robotID   string
	gen       uint64
	unsubs    []func()
	realtime  Realtime
	seen      bool
	control   Control
	watchers  map[int]func(Snapshot)
	nextWatch int
}

func NewSubscriptions(store realtime.Store, opts SubscriptionOptions) *Subscriptions {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriptions{
		store:    store,
		log:      logger,
		onFault:  opts.OnFault,
		watchers: make(map[int]func(Snapshot)),
	}
}

// Attach binds both channels for robotID. Any pair attached for another
// robot is released first. On failure nothing stays attached.
func (s *Subscriptions) Attach(ctx context.Context, robotID string) error {
	if robotID == "" {
		return ErrNoRobotSelected
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if prev := s.detach("switch"); prev != "" {
		s.log.Debug("detached previous robot", "robot_id", prev, "next", robotID)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = Attaching
	s.robotID = robotID
	s.realtime = Realtime{}
	s.seen = false
	s.control = Control{}
	s.mu.Unlock()
	s.notify()

	attached := false
	defer func() {
		if !attached {
			s.release(gen, "setup_failed")
		}
	}()

	for _, ch := range []Channel{ChannelRealtime, ChannelControl} {
		path := ch.path(robotID)

		payload, err := s.store.Get(ctx, path)
		switch {
		case err == nil:
			s.apply(gen, ch, payload)
		case realtime.IsPermissionDenied(err):
			s.fault(Fault{RobotID: robotID, Channel: ch, Err: err, Fatal: true})
			return fmt.Errorf("read %s: %w", path, err)
		case errors.Is(err, realtime.ErrNotFound):
		default:
			s.fault(Fault{RobotID: robotID, Channel: ch, Err: fmt.Errorf("initial read %s: %w", path, err)})
		}

		unsub, err := s.store.Subscribe(ctx, path, s.valueHandler(gen, ch), s.errorHandler(gen, ch))
		if err != nil {
			if realtime.IsPermissionDenied(err) {
				s.fault(Fault{RobotID: robotID, Channel: ch, Err: err, Fatal: true})
			}
			return fmt.Errorf("subscribe %s: %w", path, err)
		}
		if !s.keep(gen, unsub) {
			unsub()
			return fmt.Errorf("subscribe %s: %w", path, ErrAttachAborted)
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrAttachAborted
	}
	s.state = Attached
	s.mu.Unlock()
	attached = true

	subscriptionAttached.Set(1)
	subscriptionEvents.WithLabelValues("attach").Inc()
	s.log.Info("robot attached", "robot_id", robotID)
	s.notify()
	return nil
}

// Detach releases the listener pair. It is a no-op when nothing is attached.
func (s *Subscriptions) Detach() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.detach("explicit")
}

// Close detaches and drops every watcher.
func (s *Subscriptions) Close() {
	s.Detach()
	s.mu.Lock()
	s.watchers = make(map[int]func(Snapshot))
	s.mu.Unlock()
}

// Watch registers fn to receive a snapshot after every change.
func (s *Subscriptions) Watch(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Subscriptions) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Subscriptions) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentRobot is the robot occupying the slot, or "" when detached.
func (s *Subscriptions) CurrentRobot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.robotID
}

func (s *Subscriptions) Control() Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control
}

func (s *Subscriptions) Realtime() Realtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realtime.clone()
}

func (s *Subscriptions) snapshotLocked() Snapshot {
	return Snapshot{
		RobotID:      s.robotID,
		State:        s.state,
		Realtime:     s.realtime.clone(),
		Control:      s.control,
		RealtimeSeen: s.seen,
	}
}

// detach releases whatever generation is current. Callers hold opMu.
func (s *Subscriptions) detach(reason string) string {
	s.mu.Lock()
	if s.state == Detached {
		s.mu.Unlock()
		return ""
	}
	gen := s.gen
	s.mu.Unlock()
	return s.release(gen, reason)
}

// release tears down generation gen if it still owns the slot.
func (s *Subscriptions) release(gen uint64, reason string) string {
	s.mu.Lock()
	if s.gen != gen || s.state == Detached {
		s.mu.Unlock()
		return ""
	}
	robotID := s.robotID
	unsubs := s.unsubs
	s.unsubs = nil
	s.robotID = ""
	s.state = Detached
	s.realtime = Realtime{}
	s.seen = false
	s.control = Control{}
	s.gen++
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	subscriptionAttached.Set(0)
	subscriptionEvents.WithLabelValues("detach_" + reason).Inc()
	s.log.Info("robot detached", "robot_id", robotID, "reason", reason)
	s.notify()
	return robotID
}

func (s *Subscriptions) keep(gen uint64, unsub func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.unsubs = append(s.unsubs, unsub)
	return true
}

func (s *Subscriptions) valueHandler(gen uint64, ch Channel) func([]byte) {
	return func(payload []byte) {
		s.apply(gen, ch, payload)
	}
}

func (s *Subscriptions) errorHandler(gen uint64, ch Channel) func(error) {
	return func(err error) {
		s.mu.Lock()
		current := s.gen == gen
		robotID := s.robotID
		s.mu.Unlock()
		if !current {
			return
		}
		if realtime.IsPermissionDenied(err) {
			subscriptionEvents.WithLabelValues("permission_denied").Inc()
			s.release(gen, "permission_denied")
			s.fault(Fault{RobotID: robotID, Channel: ch, Err: err, Fatal: true})
			return
		}
		s.fault(Fault{RobotID: robotID, Channel: ch, Err: err})
	}
}

// apply replaces one snapshot field wholesale with a pushed payload.
func (s *Subscriptions) apply(gen uint64, ch Channel, payload []byte) {
	var err error
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		pushesTotal.WithLabelValues(string(ch), "stale").Inc()
		return
	}
	switch ch {
	case ChannelRealtime:
		var next Realtime
		if err = decodeSnapshot(payload, &next); err == nil {
			s.realtime = next
			s.seen = true
		}
	case ChannelControl:
		var next Control
		if err = decodeSnapshot(payload, &next); err == nil {
			s.control = next
		}
	}
	robotID := s.robotID
	s.mu.Unlock()

	if err != nil {
		pushesTotal.WithLabelValues(string(ch), "invalid").Inc()
		s.fault(Fault{RobotID: robotID, Channel: ch, Err: fmt.Errorf("decode %s push: %w", ch, err)})
		return
	}
	pushesTotal.WithLabelValues(string(ch), "applied").Inc()
	s.notify()
}

func (s *Subscriptions) fault(f Fault) {
	if f.Fatal {
		s.log.Error("realtime subscription failed", "robot_id", f.RobotID, "channel", f.Channel, "error", f.Err)
	} else {
		s.log.Warn("realtime delivery problem", "robot_id", f.RobotID, "channel", f.Channel, "error", f.Err)
	}
	if s.onFault != nil {
		s.onFault(f)
	}
}

func (s *Subscriptions) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	list := make([]func(Snapshot), 0, len(s.watchers))
	for _, fn := range s.watchers {
		list = append(list, fn)
	}
	s.mu.Unlock()
	for _, fn := range list {
		fn(snap)
	}
}

// decodeSnapshot treats an empty or null payload as the empty placeholder.
func decodeSnapshot(payload []byte, into any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	return json.Unmarshal(payload, into)
}
