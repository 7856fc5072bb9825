package presence

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/kaahochat/signalcore/internal/bus"
	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/registry"
)

type captureSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *captureSender) Send(frame []byte, critical bool) bool {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	return true
}

func (s *captureSender) types(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, frame := range s.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("decode frame %s: %v", frame, err)
		}
		out = append(out, env.Type)
	}
	return out
}

type presenceFixture struct {
	reg *registry.Registry
	bus *bus.Bus
	svc *Service

	observer *captureSender
}

// newFixture wires a registry, bus, and presence service plus one observer
// connection subscribed to the broadcast channel.
func newFixture(t *testing.T) *presenceFixture {
	t.Helper()
	f := &presenceFixture{observer: &captureSender{}}
	f.reg = registry.New(nil)
	f.bus = bus.New(f.reg, metrics.New())
	f.svc = NewService(nil, nil, f.reg, f.bus)

	if err := f.reg.Register("observer", f.observer); err != nil {
		t.Fatalf("Register observer: %v", err)
	}
	f.bus.Subscribe(bus.BroadcastChannel, "observer")
	return f
}

// connect registers and authenticates a connection and feeds the edge into
// the service, mirroring what the relay layer does.
func (f *presenceFixture) connect(t *testing.T, connID, identity string) {
	t.Helper()
	if err := f.reg.Register(connID, &captureSender{}); err != nil {
		t.Fatalf("Register %s: %v", connID, err)
	}
	first, err := f.reg.Authenticate(connID, identity)
	if err != nil {
		t.Fatalf("Authenticate %s: %v", connID, err)
	}
	f.svc.ConnectionAuthenticated(identity, first)
}

func (f *presenceFixture) disconnect(t *testing.T, connID string) {
	t.Helper()
	identity, last, ok := f.reg.Unregister(connID)
	if !ok {
		t.Fatalf("Unregister %s: unknown connection", connID)
	}
	if identity != "" {
		f.svc.ConnectionClosed(identity, last)
	}
}

func TestPresence_EdgeTriggeredAnnouncements(t *testing.T) {
	f := newFixture(t)

	// Three connections for one identity: exactly one user_online.
	f.connect(t, "c1", "alice")
	f.connect(t, "c2", "alice")
	f.connect(t, "c3", "alice")

	if got := f.observer.types(t); len(got) != 1 || got[0] != "user_online" {
		t.Fatalf("events=%v, want exactly one user_online", got)
	}

	// Dropping all but the last: still no user_offline.
	f.disconnect(t, "c1")
	f.disconnect(t, "c2")
	if got := f.observer.types(t); len(got) != 1 {
		t.Fatalf("events=%v, want no offline before last disconnect", got)
	}

	f.disconnect(t, "c3")
	got := f.observer.types(t)
	if len(got) != 2 || got[1] != "user_offline" {
		t.Fatalf("events=%v, want user_online then user_offline", got)
	}
}

func TestPresence_SnapshotTracksRegistry(t *testing.T) {
	f := newFixture(t)

	if got := f.svc.Snapshot(); len(got) != 0 {
		t.Fatalf("Snapshot=%v, want empty", got)
	}

	f.connect(t, "c1", "alice")
	f.connect(t, "c2", "bob")

	got := f.svc.Snapshot()
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("Snapshot=%v, want [alice bob]", got)
	}
	if !f.svc.IsOnline("alice") || f.svc.IsOnline("carol") {
		t.Fatalf("IsOnline(alice)=%v IsOnline(carol)=%v, want true/false",
			f.svc.IsOnline("alice"), f.svc.IsOnline("carol"))
	}

	f.disconnect(t, "c1")
	if got := f.svc.Snapshot(); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("Snapshot=%v, want [bob]", got)
	}
}
