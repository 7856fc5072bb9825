package signaling

import (
	"log/slog"

	"github.com/kaahochat/signalcore/internal/bus"
	"github.com/kaahochat/signalcore/internal/call"
	"github.com/kaahochat/signalcore/internal/presence"
	"github.com/kaahochat/signalcore/internal/registry"
)

// Reconciler runs the ordered teardown when a connection goes away: drop it
// from the registry, clear its subscriptions, announce the presence edge, and
// only then terminate any calls the identity can no longer carry. Call
// termination happens strictly after the identity is offline so the manager's
// presence check observes the truth.
type Reconciler struct {
	log      *slog.Logger
	registry *registry.Registry
	bus      *bus.Bus
	presence *presence.Service
	calls    *call.Manager
}

func NewReconciler(log *slog.Logger, reg *registry.Registry, b *bus.Bus, p *presence.Service, calls *call.Manager) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{log: log, registry: reg, bus: b, presence: p, calls: calls}
}

// ConnectionClosed reconciles all state for a closed connection. Safe to call
// for connections that never authenticated.
func (r *Reconciler) ConnectionClosed(connID string) {
	identity, last, ok := r.registry.Unregister(connID)
	r.bus.UnsubscribeAll(connID)
	if !ok || identity == "" {
		return
	}

	r.presence.ConnectionClosed(identity, last)
	if last {
		r.calls.ForceTerminate(identity, call.ReasonPeerDisconnected)
	}
}
