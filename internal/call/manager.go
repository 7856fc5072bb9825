// Package call owns the call lifecycle state machine. Every signaling event
// that touches a call is validated here against the session's current state
// and participants before anything is relayed.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/ratelimit"
)

// Signaler is the only surface the call package needs from the relay layer.
// The concrete implementation encodes wire events and publishes them on the
// participants' identity channels.
type Signaler interface {
	IncomingCall(callee, callID, caller string, kind Kind)
	CallAnswered(caller, callID string)
	CallAnsweredElsewhere(callee, callID, actingConnID string)
	CallRejected(caller, callID string)
	CallRejectedElsewhere(callee, callID, actingConnID string)
	CallEnded(identity, callID string, duration time.Duration, reason string)
	ForwardSignal(target, callID string, kind SignalKind, payload json.RawMessage)
}

// Presence is the read-only view of who is currently reachable.
type Presence interface {
	IsOnline(identity string) bool
}

const (
	DefaultRingTimeout   = 60 * time.Second
	DefaultTerminalGrace = 30 * time.Second
)

// Termination reasons carried on call_ended events and finalized records.
const (
	ReasonHangup           = "hangup"
	ReasonMissed           = "missed"
	ReasonPeerDisconnected = "peer_disconnected"
)

type Config struct {
	// RingTimeout bounds how long a session may stay in ringing before it
	// auto-transitions to missed.
	RingTimeout time.Duration
	// TerminalGrace is how long a terminal session stays addressable so a
	// duplicate terminal event is absorbed as a soft no-op instead of NotFound.
	TerminalGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.RingTimeout <= 0 {
		c.RingTimeout = DefaultRingTimeout
	}
	if c.TerminalGrace <= 0 {
		c.TerminalGrace = DefaultTerminalGrace
	}
	return c
}

// Manager is the call session table plus its state machine. Membership is
// guarded by mu; transitions for one call id are serialized by the session's
// own mutex, so unrelated calls never contend.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    ratelimit.Clock
	presence Presence
	signaler Signaler
	store    Store
	sink     Sink

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg Config, log *slog.Logger, m *metrics.Metrics, clock ratelimit.Clock, presence Presence, signaler Signaler, store Store, sink Sink) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		log:      log,
		metrics:  m,
		clock:    clock,
		presence: presence,
		signaler: signaler,
		store:    store,
		sink:     sink,
		sessions: make(map[string]*Session),
	}
}

// Initiate creates a session for callID and rings the callee.
//
// The call id is caller-generated; reusing one that is still live (including
// a terminal session inside its grace window) fails with ErrDuplicateCallID.
// An offline callee fails fast with ErrCalleeOffline: there is no
// store-and-forward for calls.
func (m *Manager) Initiate(callID, caller, callee string, kind Kind) (*Session, error) {
	if !m.presence.IsOnline(callee) {
		return nil, ErrCalleeOffline
	}

	sess := &Session{
		id:        callID,
		caller:    caller,
		callee:    callee,
		kind:      kind,
		status:    StatusInitiated,
		createdAt: m.clock.Now(),
	}

	m.mu.Lock()
	if _, exists := m.sessions[callID]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateCallID
	}
	m.sessions[callID] = sess
	m.mu.Unlock()

	// The callee may have dropped between the presence check and the insert.
	// Re-checking after the session is visible closes the race against the
	// disconnect reconciler: either the reconciler sees this session and
	// force-terminates it, or we see the callee offline here and back out.
	if !m.presence.IsOnline(callee) {
		m.removeSession(callID)
		return nil, ErrCalleeOffline
	}

	sess.mu.Lock()
	if sess.status != StatusInitiated {
		// Force-terminated before it ever rang; the reconciler already
		// notified whoever needed to know.
		sess.mu.Unlock()
		return nil, ErrCalleeOffline
	}
	sess.status = StatusRinging
	sess.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() { m.ringTimeout(callID) })
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	m.saveSnapshot(snap)
	m.metrics.Inc(metrics.CallsInitiated)
	m.signaler.IncomingCall(callee, callID, caller, kind)
	m.log.Info("call ringing", "call_id", callID, "caller", caller, "callee", callee, "kind", kind)
	return sess, nil
}

// Answer transitions ringing -> answered. Only the callee may answer; the
// acting connection is excluded from the suppression event sent to the
// callee's other devices.
func (m *Manager) Answer(callID, by, actingConnID string) error {
	sess, err := m.session(callID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if by != sess.callee {
		sess.mu.Unlock()
		return ErrNotCallee
	}
	if sess.status != StatusRinging {
		sess.mu.Unlock()
		return fmt.Errorf("%w: answer in %s", ErrInvalidState, sess.status)
	}
	sess.status = StatusAnswered
	sess.answeredAt = m.clock.Now()
	stopTimerLocked(&sess.ringTimer)
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	m.saveSnapshot(snap)
	m.metrics.Inc(metrics.CallsAnswered)
	m.signaler.CallAnswered(sess.caller, callID)
	m.signaler.CallAnsweredElsewhere(sess.callee, callID, actingConnID)
	m.log.Info("call answered", "call_id", callID, "by", by)
	return nil
}

// Reject transitions initiated|ringing -> rejected. Only the callee may
// reject.
func (m *Manager) Reject(callID, by, actingConnID string) error {
	sess, err := m.session(callID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if by != sess.callee {
		sess.mu.Unlock()
		return ErrNotCallee
	}
	if sess.status != StatusInitiated && sess.status != StatusRinging {
		sess.mu.Unlock()
		return fmt.Errorf("%w: reject in %s", ErrInvalidState, sess.status)
	}
	snap := m.terminalLocked(sess, StatusRejected, "rejected")
	sess.mu.Unlock()

	m.saveSnapshot(snap)
	m.metrics.Inc(metrics.CallsRejected)
	m.signaler.CallRejected(sess.caller, callID)
	m.signaler.CallRejectedElsewhere(sess.callee, callID, actingConnID)
	m.emitRecord(snap)
	m.log.Info("call rejected", "call_id", callID, "by", by)
	return nil
}

// End terminates the call from any non-terminal state. Either participant may
// hang up; both participants receive the authoritative call_ended event,
// including the one who initiated the end.
func (m *Manager) End(callID, by string) (time.Duration, error) {
	sess, err := m.session(callID)
	if err != nil {
		return 0, err
	}

	sess.mu.Lock()
	if !sess.participant(by) {
		sess.mu.Unlock()
		return 0, ErrNotParticipant
	}
	if sess.status.Terminal() {
		// Both sides hanging up concurrently is normal; the loser of the race
		// gets a soft no-op.
		sess.mu.Unlock()
		return 0, fmt.Errorf("%w: end in terminal state", ErrInvalidState)
	}
	snap := m.terminalLocked(sess, StatusEnded, ReasonHangup)
	duration := sess.durationLocked()
	sess.mu.Unlock()

	m.saveSnapshot(snap)
	m.metrics.Inc(metrics.CallsEnded)
	m.signaler.CallEnded(sess.caller, callID, duration, ReasonHangup)
	m.signaler.CallEnded(sess.callee, callID, duration, ReasonHangup)
	m.emitRecord(snap)
	m.log.Info("call ended", "call_id", callID, "by", by, "duration", duration)
	return duration, nil
}

// RelaySignal forwards a WebRTC negotiation payload to the other participant.
// Valid while the session is ringing or answered; ICE trickling legitimately
// starts before the formal answered transition, so all three kinds are
// accepted in both states.
func (m *Manager) RelaySignal(callID, by string, kind SignalKind, payload json.RawMessage) error {
	sess, err := m.session(callID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if !sess.participant(by) {
		sess.mu.Unlock()
		m.metrics.Inc(metrics.SignalsRejected)
		return ErrNotParticipant
	}
	if sess.status != StatusRinging && sess.status != StatusAnswered {
		sess.mu.Unlock()
		m.metrics.Inc(metrics.SignalsRejected)
		return fmt.Errorf("%w: %s in %s", ErrInvalidState, kind, sess.status)
	}
	target := sess.other(by)
	sess.mu.Unlock()

	m.metrics.Inc(metrics.SignalsRelayed)
	m.signaler.ForwardSignal(target, callID, kind, payload)
	return nil
}

// ForceTerminate ends every non-terminal session identity is party to. The
// disconnect reconciler calls this after the identity's last connection
// dropped, so terminal events go to the surviving participant only.
func (m *Manager) ForceTerminate(identity, reason string) {
	m.mu.RLock()
	involved := make([]*Session, 0, 2)
	for _, sess := range m.sessions {
		if sess.participant(identity) {
			involved = append(involved, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range involved {
		sess.mu.Lock()
		if sess.status.Terminal() {
			sess.mu.Unlock()
			continue
		}

		var status Status
		switch {
		case sess.status == StatusAnswered:
			status = StatusEnded
		case identity == sess.callee:
			// Callee vanished before answering.
			status = StatusMissed
		default:
			// Caller vanished before the call was established.
			status = StatusFailed
		}
		snap := m.terminalLocked(sess, status, reason)
		duration := sess.durationLocked()
		survivor := sess.other(identity)
		sess.mu.Unlock()

		switch status {
		case StatusEnded:
			m.metrics.Inc(metrics.CallsEnded)
		case StatusMissed:
			m.metrics.Inc(metrics.CallsMissed)
		default:
			m.metrics.Inc(metrics.CallsFailed)
		}
		m.saveSnapshot(snap)
		m.signaler.CallEnded(survivor, sess.id, duration, reason)
		m.emitRecord(snap)
		m.log.Info("call force-terminated", "call_id", sess.id, "identity", identity, "status", status)
	}
}

// ringTimeout fires when a session stayed in ringing past the configured
// bound. Both participants learn the call was missed.
func (m *Manager) ringTimeout(callID string) {
	sess, err := m.session(callID)
	if err != nil {
		return
	}

	sess.mu.Lock()
	if sess.status != StatusRinging {
		sess.mu.Unlock()
		return
	}
	snap := m.terminalLocked(sess, StatusMissed, ReasonMissed)
	sess.mu.Unlock()

	m.saveSnapshot(snap)
	m.metrics.Inc(metrics.CallsMissed)
	m.signaler.CallEnded(sess.caller, callID, 0, ReasonMissed)
	m.signaler.CallEnded(sess.callee, callID, 0, ReasonMissed)
	m.emitRecord(snap)
	m.log.Info("call missed", "call_id", callID)
}

// Get returns the live session for callID, if any.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[callID]
	return sess, ok
}

// ActiveSessions reports the size of the live table, terminal-in-grace
// sessions included.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) session(callID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// terminalLocked applies the one-way transition into a terminal status and
// schedules eviction after the grace window. The caller holds sess.mu and has
// verified the session is not already terminal; finding it terminal here
// means the per-call serialization was violated, which is a programming
// error, not a recoverable condition.
func (m *Manager) terminalLocked(sess *Session, status Status, reason string) Snapshot {
	if sess.status.Terminal() {
		panic(fmt.Sprintf("call %s: terminal transition %s -> %s", sess.id, sess.status, status))
	}
	sess.status = status
	sess.reason = reason
	sess.endedAt = m.clock.Now()
	stopTimerLocked(&sess.ringTimer)
	sess.graceTimer = time.AfterFunc(m.cfg.TerminalGrace, func() { m.evict(sess.id) })
	return sess.snapshotLocked()
}

func (m *Manager) evict(callID string) {
	m.removeSession(callID)
}

func (m *Manager) removeSession(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Delete(ctx, callID); err != nil {
		m.log.Warn("session store delete failed", "call_id", callID, "err", err)
	}
}

func (m *Manager) saveSnapshot(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, snap); err != nil {
		m.log.Warn("session store save failed", "call_id", snap.ID, "err", err)
	}
}

func (m *Manager) emitRecord(snap Snapshot) {
	if m.sink == nil {
		return
	}
	rec := recordFromSnapshot(snap)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.sink.RecordCall(ctx, rec); err != nil {
			m.log.Warn("finalized call record not persisted", "call_id", rec.CallID, "err", err)
		}
	}()
}

func stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
