package fleet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/joshp123/robofleet/internal/realtime"
)

type fakeAPI struct {
	mu           sync.Mutex
	missing      map[string]bool
	acquireCalls int
	releaseCalls int
	commands     []Command
	acquireErr   error
	releaseErr   error
	sendErr      error
	sendGate     chan struct{}
	// robotGates hold Robot fetches until closed; fetching reports each held fetch.
	robotGates map[string]chan struct{}
	fetching   chan string
}

func (f *fakeAPI) holdRobot(robotID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.robotGates == nil {
		f.robotGates = make(map[string]chan struct{})
	}
	if f.fetching == nil {
		f.fetching = make(chan string, 4)
	}
	gate := make(chan struct{})
	f.robotGates[robotID] = gate
	return gate
}

func (f *fakeAPI) Robot(_ context.Context, robotID string) (Robot, error) {
	f.mu.Lock()
	gate := f.robotGates[robotID]
	fetching := f.fetching
	f.mu.Unlock()
	if gate != nil {
		fetching <- robotID
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[robotID] {
		return Robot{}, fmt.Errorf("robot %s not found", robotID)
	}
	return Robot{ID: robotID, Static: Static{Owner: "ops", Name: "Robot " + robotID}}, nil
}

func (f *fakeAPI) AcquireControl(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquireCalls++
	return f.acquireErr
}

func (f *fakeAPI) ReleaseControl(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return f.releaseErr
}

func (f *fakeAPI) SendCommand(_ context.Context, _ string, cmd Command) error {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.sendErr
}

func (f *fakeAPI) calls() (acquire, release, commands int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquireCalls, f.releaseCalls, len(f.commands)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, store *realtime.Memory, user Identity) (*Session, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	session := NewSession(user, api, store, Options{Logger: quietLogger()})
	t.Cleanup(session.Close)
	return session, api
}

func publishControl(store *realtime.Memory, robotID string, ctrl Control) {
	payload := fmt.Sprintf(`{"controller_user_id":%q,"controller_user_name":%q}`, ctrl.ControllerUserID, ctrl.ControllerUserName)
	store.Publish(realtime.ControlPath(robotID), []byte(payload))
}
