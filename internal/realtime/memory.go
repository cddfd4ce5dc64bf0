package realtime

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store. Values behave like retained messages:
// a new subscriber receives the current value immediately.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
	denied map[string]bool
	subs   map[string]map[int]subscriber
	nextID int
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		denied: make(map[string]bool),
		subs:   make(map[string]map[int]subscriber),
	}
}

func (m *Memory) Subscribe(_ context.Context, path string, onValue func([]byte), onError func(error)) (func(), error) {
	m.mu.Lock()
	if m.denied[path] {
		m.mu.Unlock()
		return nil, ErrPermissionDenied
	}
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]subscriber)
	}
	id := m.nextID
	m.nextID++
	m.subs[path][id] = subscriber{onValue: onValue, onError: onError}
	value, hasValue := m.values[path]
	m.mu.Unlock()

	if hasValue && onValue != nil {
		onValue(clone(value))
	}

	subscriptionsActive.WithLabelValues("memory").Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			subscriptionsActive.WithLabelValues("memory").Dec()
			m.mu.Lock()
			defer m.mu.Unlock()
			if callbacks := m.subs[path]; callbacks != nil {
				delete(callbacks, id)
				if len(callbacks) == 0 {
					delete(m.subs, path)
				}
			}
		})
	}, nil
}

func (m *Memory) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied[path] {
		return nil, ErrPermissionDenied
	}
	value, ok := m.values[path]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value), nil
}

// Publish stores a value and pushes it to every subscriber of the path.
func (m *Memory) Publish(path string, payload []byte) {
	m.mu.Lock()
	m.values[path] = clone(payload)
	list := m.subscribersLocked(path)
	m.mu.Unlock()
	for _, sub := range list {
		if sub.onValue != nil {
			sub.onValue(clone(payload))
		}
	}
}

// Deny refuses future access to a path and reports ErrPermissionDenied to
// its current subscribers.
func (m *Memory) Deny(path string) {
	m.mu.Lock()
	m.denied[path] = true
	list := m.subscribersLocked(path)
	m.mu.Unlock()
	for _, sub := range list {
		if sub.onError != nil {
			sub.onError(ErrPermissionDenied)
		}
	}
}

// Allow lifts a previous Deny.
func (m *Memory) Allow(path string) {
	m.mu.Lock()
	delete(m.denied, path)
	m.mu.Unlock()
}

// Fail delivers err to the subscribers of a path without changing its value.
func (m *Memory) Fail(path string, err error) {
	m.mu.Lock()
	list := m.subscribersLocked(path)
	m.mu.Unlock()
	for _, sub := range list {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Listeners reports how many callbacks are registered for a path.
func (m *Memory) Listeners(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[path])
}

// ActivePaths lists paths with at least one listener, sorted.
func (m *Memory) ActivePaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for path := range m.subs {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) subscribersLocked(path string) []subscriber {
	callbacks := m.subs[path]
	list := make([]subscriber, 0, len(callbacks))
	for _, sub := range callbacks {
		list = append(list, sub)
	}
	return list
}
