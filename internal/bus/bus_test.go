package bus

import (
	"sync"
	"testing"

	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/registry"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	refuse bool
}

func (s *fakeSender) Send(frame []byte, critical bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse && !critical {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeLookup struct {
	mu      sync.Mutex
	senders map[string]registry.Sender
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{senders: make(map[string]registry.Sender)}
}

func (l *fakeLookup) add(connID string, s registry.Sender) {
	l.mu.Lock()
	l.senders[connID] = s
	l.mu.Unlock()
}

func (l *fakeLookup) remove(connID string) {
	l.mu.Lock()
	delete(l.senders, connID)
	l.mu.Unlock()
}

func (l *fakeLookup) Sender(connID string) (registry.Sender, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.senders[connID]
	return s, ok
}

func TestBus_PublishFansOutToSubscribers(t *testing.T) {
	lookup := newFakeLookup()
	b := New(lookup, metrics.New())

	s1 := &fakeSender{}
	s2 := &fakeSender{}
	lookup.add("c1", s1)
	lookup.add("c2", s2)

	b.Subscribe(IdentityChannel("alice"), "c1")
	b.Subscribe(IdentityChannel("alice"), "c2")

	n := b.Publish(IdentityChannel("alice"), Event{Type: "typing_start", Frame: []byte(`{}`)})
	if n != 2 {
		t.Fatalf("Publish delivered=%d, want 2", n)
	}
	if s1.count() != 1 || s2.count() != 1 {
		t.Fatalf("sender frame counts = %d, %d; want 1, 1", s1.count(), s2.count())
	}
}

func TestBus_PublishToEmptyChannelIsNoOp(t *testing.T) {
	b := New(newFakeLookup(), metrics.New())

	if n := b.Publish(IdentityChannel("ghost"), Event{Type: "x", Frame: []byte(`{}`)}); n != 0 {
		t.Fatalf("Publish delivered=%d, want 0", n)
	}
}

func TestBus_PublishExceptSkipsActingConnection(t *testing.T) {
	lookup := newFakeLookup()
	b := New(lookup, metrics.New())

	s1 := &fakeSender{}
	s2 := &fakeSender{}
	lookup.add("c1", s1)
	lookup.add("c2", s2)

	b.Subscribe(IdentityChannel("bob"), "c1")
	b.Subscribe(IdentityChannel("bob"), "c2")

	n := b.PublishExcept(IdentityChannel("bob"), Event{Type: "call_answered_elsewhere", Frame: []byte(`{}`)}, "c1")
	if n != 1 {
		t.Fatalf("PublishExcept delivered=%d, want 1", n)
	}
	if s1.count() != 0 {
		t.Fatalf("excluded sender received %d frames, want 0", s1.count())
	}
	if s2.count() != 1 {
		t.Fatalf("other sender received %d frames, want 1", s2.count())
	}
}

func TestBus_UnsubscribeAllRemovesEveryMembership(t *testing.T) {
	lookup := newFakeLookup()
	b := New(lookup, metrics.New())

	s := &fakeSender{}
	lookup.add("c1", s)

	b.Subscribe(IdentityChannel("alice"), "c1")
	b.Subscribe(BroadcastChannel, "c1")
	b.Subscribe(AdHocChannel("loc-1"), "c1")

	b.UnsubscribeAll("c1")

	for _, ch := range []string{IdentityChannel("alice"), BroadcastChannel, AdHocChannel("loc-1")} {
		if got := b.Subscribers(ch); got != 0 {
			t.Fatalf("Subscribers(%q)=%d after UnsubscribeAll, want 0", ch, got)
		}
	}
}

func TestBus_DeadConnectionIsSkipped(t *testing.T) {
	lookup := newFakeLookup()
	m := metrics.New()
	b := New(lookup, m)

	s := &fakeSender{}
	lookup.add("c1", s)
	b.Subscribe(IdentityChannel("alice"), "c1")

	// Connection dies without unsubscribing (lookup no longer resolves it).
	lookup.remove("c1")

	if n := b.Publish(IdentityChannel("alice"), Event{Type: "x", Frame: []byte(`{}`)}); n != 0 {
		t.Fatalf("Publish delivered=%d, want 0 for dead connection", n)
	}
}

func TestBus_FullQueueCountsDrop(t *testing.T) {
	lookup := newFakeLookup()
	m := metrics.New()
	b := New(lookup, m)

	s := &fakeSender{refuse: true}
	lookup.add("c1", s)
	b.Subscribe(IdentityChannel("alice"), "c1")

	if n := b.Publish(IdentityChannel("alice"), Event{Type: "typing_start", Frame: []byte(`{}`)}); n != 0 {
		t.Fatalf("Publish delivered=%d, want 0 when queue refuses", n)
	}
	if got := m.Get(metrics.DropReasonQueueFull); got != 1 {
		t.Fatalf("drop counter=%d, want 1", got)
	}

	// Critical frames are accepted even under backpressure.
	if n := b.Publish(IdentityChannel("alice"), Event{Type: "call_ended", Frame: []byte(`{}`), Critical: true}); n != 1 {
		t.Fatalf("critical Publish delivered=%d, want 1", n)
	}
}
