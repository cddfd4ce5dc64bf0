package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/robofleet/internal/core"
	"github.com/joshp123/robofleet/internal/fleet"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

// SessionSource is what the stream reads from a session.
type SessionSource interface {
	Watch(fn func(fleet.Snapshot)) func()
	Snapshot() fleet.Snapshot
	Robot() fleet.Robot
	IsCurrentUserControlling() bool
}

// Frame is one message on the snapshot stream.
type Frame struct {
	State       fleet.State `json:"state"`
	Robot       fleet.Robot `json:"robot"`
	Controlling bool        `json:"controlling"`
}

// SnapshotStream pushes the selected robot to websocket clients after
// every change. Slow clients only ever see the newest frame.
type SnapshotStream struct {
	source   SessionSource
	log      *slog.Logger
	upgrader websocket.Upgrader
	clients  prometheus.Gauge
}

var _ core.Component = (*SnapshotStream)(nil)

func NewSnapshotStream(source SessionSource, logger *slog.Logger) *SnapshotStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStream{
		source: source,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robofleet_snapshot_stream_clients",
			Help: "Connected snapshot stream websocket clients",
		}),
	}
}

func (s *SnapshotStream) Manifest() core.Manifest {
	return core.Manifest{ID: "snapshot_stream", DisplayName: "Snapshot stream"}
}

func (s *SnapshotStream) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.clients}
}

func (s *SnapshotStream) Health() core.HealthStatus {
	return core.HealthHealthy
}

func (s *SnapshotStream) HealthMessage() string {
	return ""
}

func (s *SnapshotStream) RegisterHTTP(mux *http.ServeMux) {
	mux.Handle("/ws/snapshot", s)
}

func (s *SnapshotStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.clients.Inc()
	defer s.clients.Dec()

	changed := make(chan struct{}, 1)
	stop := s.source.Watch(func(fleet.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	closed := make(chan struct{})
	go s.readLoop(conn, closed)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	if err := s.writeFrame(conn); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-changed:
			if err := s.writeFrame(conn); err != nil {
				s.log.Debug("snapshot stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *SnapshotStream) frame() Frame {
	return Frame{
		State:       s.source.Snapshot().State,
		Robot:       s.source.Robot(),
		Controlling: s.source.IsCurrentUserControlling(),
	}
}

func (s *SnapshotStream) writeFrame(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(s.frame())
}

// readLoop drains client frames so control messages are processed.
func (s *SnapshotStream) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
