package metrics

import "sync"

// Counter names used across the signaling core.
const (
	ConnectionsOpened        = "connections_opened"
	ConnectionsClosed        = "connections_closed"
	ConnectionsAuthenticated = "connections_authenticated"
	AuthFailures             = "auth_failures"

	PresenceOnline  = "presence_online"
	PresenceOffline = "presence_offline"

	CallsInitiated = "calls_initiated"
	CallsAnswered  = "calls_answered"
	CallsRejected  = "calls_rejected"
	CallsMissed    = "calls_missed"
	CallsFailed    = "calls_failed"
	CallsEnded     = "calls_ended"

	SignalsRelayed  = "signals_relayed"
	SignalsRejected = "signals_rejected"

	EventsPublished = "events_published"
	EventsDelivered = "events_delivered"

	// Drop reasons.
	DropReasonQueueFull   = "drop_queue_full"
	DropReasonRateLimited = "drop_rate_limited"
	DropReasonProtocol    = "drop_protocol_error"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production deployment is expected to plug into a real metrics backend;
// this type keeps the core logic testable while still exposing counters via
// the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
