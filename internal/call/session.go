package call

import (
	"sync"
	"time"
)

// Kind distinguishes audio-only from video calls. It affects nothing in the
// core; it is carried so callee UIs can render the right accept prompt.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindAudio, KindVideo:
		return Kind(s), true
	}
	return "", false
}

// Status is the call lifecycle state. Transitions are monotonic: once a
// session reaches a terminal status it never leaves it.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusEnded     Status = "ended"
	StatusRejected  Status = "rejected"
	StatusMissed    Status = "missed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed, StatusFailed:
		return true
	}
	return false
}

// SignalKind is the WebRTC negotiation payload kind relayed between
// participants.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// Session is the stateful record of one call attempt between two identities.
//
// All mutation happens inside the Manager with the session mutex held, so
// transitions for one call id are applied strictly in the order they are
// accepted.
type Session struct {
	mu sync.Mutex

	id     string
	caller string
	callee string
	kind   Kind

	status     Status
	createdAt  time.Time
	answeredAt time.Time
	endedAt    time.Time
	reason     string

	ringTimer  *time.Timer
	graceTimer *time.Timer
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Caller() string { return s.caller }
func (s *Session) Callee() string { return s.callee }
func (s *Session) Kind() Kind     { return s.kind }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) participant(identity string) bool {
	return identity == s.caller || identity == s.callee
}

// other returns the participant opposite to identity.
func (s *Session) other(identity string) string {
	if identity == s.caller {
		return s.callee
	}
	return s.caller
}

// durationLocked derives the billed duration: ended minus answered, zero for
// calls that never left ringing.
func (s *Session) durationLocked() time.Duration {
	if s.answeredAt.IsZero() || s.endedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.answeredAt)
}

// Snapshot is an immutable copy of the session state, used by the Store and
// the finalized-call Record.
type Snapshot struct {
	ID         string    `json:"call_id"`
	Caller     string    `json:"caller"`
	Callee     string    `json:"callee"`
	Kind       Kind      `json:"call_type"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	AnsweredAt time.Time `json:"answered_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:         s.id,
		Caller:     s.caller,
		Callee:     s.callee,
		Kind:       s.kind,
		Status:     s.status,
		CreatedAt:  s.createdAt,
		AnsweredAt: s.answeredAt,
		EndedAt:    s.endedAt,
		Reason:     s.reason,
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}
