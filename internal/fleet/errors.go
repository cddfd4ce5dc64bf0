package fleet

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNoRobotSelected = errors.New("no robot selected")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrNotController   = errors.New("current user does not control this robot")
	ErrAttachAborted   = errors.New("attach aborted")

	// ErrSelectionSuperseded means a later selection won while this one was in flight.
	ErrSelectionSuperseded = errors.New("selection superseded")
)

// BusyError reports that another user holds control.
type BusyError struct {
	Holder string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("busy, held by %s", e.Holder)
}

// ErrorSlot holds the latest user-facing failure message for the UI. A
// later successful operation clears it.
type ErrorSlot struct {
	mu      sync.Mutex
	message string
}

func (s *ErrorSlot) Set(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

func (s *ErrorSlot) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *ErrorSlot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = ""
}
