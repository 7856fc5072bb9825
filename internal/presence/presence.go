// Package presence derives online/offline status from the connection
// registry and announces transitions on the broadcast channel. Announcements
// are edge-triggered: an identity opening a second tab produces no event, and
// only the last disconnection produces user_offline.
package presence

import (
	"log/slog"

	"github.com/kaahochat/signalcore/internal/bus"
	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/protocol"
	"github.com/kaahochat/signalcore/internal/registry"
)

type Service struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	reg     *registry.Registry
	bus     *bus.Bus
}

func NewService(log *slog.Logger, m *metrics.Metrics, reg *registry.Registry, b *bus.Bus) *Service {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{log: log, metrics: m, reg: reg, bus: b}
}

// IsOnline reports whether identity has at least one live connection. This is
// the Presence view the call manager consults at initiate time.
func (s *Service) IsOnline(identity string) bool {
	return s.reg.IsOnline(identity)
}

// Snapshot returns all currently online identities so a late joiner can
// reconcile state instead of relying on deltas alone.
func (s *Service) Snapshot() []string {
	return s.reg.OnlineIdentities()
}

// ConnectionAuthenticated is invoked by the relay layer after the registry
// bound a connection to identity. first is the registry's 0->1 edge flag.
func (s *Service) ConnectionAuthenticated(identity string, first bool) {
	if !first {
		return
	}
	frame, err := protocol.UserOnline(identity)
	if err != nil {
		s.log.Error("encode user_online", "identity", identity, "err", err)
		return
	}
	s.metrics.Inc(metrics.PresenceOnline)
	s.bus.Publish(bus.BroadcastChannel, bus.Event{Type: protocol.TypeUserOnline, Frame: frame})
	s.log.Info("user online", "identity", identity)
}

// ConnectionClosed is invoked by the disconnect reconciler after the registry
// removed a connection. last is the registry's 1->0 edge flag.
func (s *Service) ConnectionClosed(identity string, last bool) {
	if !last {
		return
	}
	frame, err := protocol.UserOffline(identity)
	if err != nil {
		s.log.Error("encode user_offline", "identity", identity, "err", err)
		return
	}
	s.metrics.Inc(metrics.PresenceOffline)
	s.bus.Publish(bus.BroadcastChannel, bus.Event{Type: protocol.TypeUserOffline, Frame: frame})
	s.log.Info("user offline", "identity", identity)
}
