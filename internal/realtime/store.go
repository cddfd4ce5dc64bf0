package realtime

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is delivered when the store refuses a path.
	ErrPermissionDenied = errors.New("realtime permission denied")
	// ErrNotFound is returned by Get when a path holds no value.
	ErrNotFound = errors.New("realtime value not found")
)

// Store is a path-addressable push store delivering whole-object snapshots.
type Store interface {
	// Subscribe registers callbacks for a path. The returned function
	// unregisters them and is safe to call more than once.
	Subscribe(ctx context.Context, path string, onValue func([]byte), onError func(error)) (func(), error)
	// Get reads the current value of a path once.
	Get(ctx context.Context, path string) ([]byte, error)
}

func RealtimePath(robotID string) string {
	return "robots/" + robotID + "/realtime_data"
}

func ControlPath(robotID string) string {
	return "robots/" + robotID + "/control"
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

type subscriber struct {
	onValue func([]byte)
	onError func(error)
}
