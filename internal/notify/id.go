package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Origin tells whether a notification exists on the server or only on this device.
type Origin uint8

const (
	OriginNone Origin = iota
	OriginLocal
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "none"
	}
}

// ID is either a server-assigned number or a client-generated string.
// Only remote ids may be passed to the backend.
type ID struct {
	origin Origin
	remote int64
	local  string
}

func RemoteID(id int64) ID {
	return ID{origin: OriginRemote, remote: id}
}

func LocalID(id string) ID {
	return ID{origin: OriginLocal, local: id}
}

// NewLocalID returns a fresh client-side id.
func NewLocalID() ID {
	return LocalID(uuid.NewString())
}

func (id ID) Origin() Origin { return id.origin }

func (id ID) IsZero() bool { return id.origin == OriginNone }

func (id ID) IsRemote() bool { return id.origin == OriginRemote }

func (id ID) IsLocal() bool { return id.origin == OriginLocal }

// Remote returns the server id when there is one.
func (id ID) Remote() (int64, bool) {
	return id.remote, id.origin == OriginRemote
}

func (id ID) String() string {
	switch id.origin {
	case OriginRemote:
		return strconv.FormatInt(id.remote, 10)
	case OriginLocal:
		return id.local
	default:
		return ""
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch id.origin {
	case OriginRemote:
		return []byte(strconv.FormatInt(id.remote, 10)), nil
	case OriginLocal:
		return json.Marshal(id.local)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes numbers as remote ids and strings as local ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = ID{}
			return nil
		}
		*id = LocalID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("notification id %s: %w", data, err)
	}
	*id = RemoteID(n)
	return nil
}

// ParseID reads an id typed by a user or passed over RPC. Decimal strings are remote.
func ParseID(raw string) ID {
	if raw == "" {
		return ID{}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return RemoteID(n)
	}
	return LocalID(raw)
}
