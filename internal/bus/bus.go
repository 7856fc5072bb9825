// Package bus is the publish/subscribe fan-out primitive of the signaling
// core. Channels are plain names; each subscriber is a connection id resolved
// through the registry at publish time, so the bus never owns a connection.
//
// Delivery is best-effort and online-only: publishing to a channel with zero
// subscribers drops the event, and Publish returns as soon as every
// subscriber's bounded outbound queue has accepted (or refused) the frame.
package bus

import (
	"hash/fnv"
	"sync"

	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/registry"
)

// BroadcastChannel carries presence transitions to every authenticated
// connection.
const BroadcastChannel = "broadcast"

// IdentityChannel names the implicit per-identity channel.
func IdentityChannel(identity string) string { return "user:" + identity }

// AdHocChannel names an explicitly joined channel (e.g. a live-location
// sharing session).
func AdHocChannel(name string) string { return "room:" + name }

// Event is one outbound frame. Frame is the fully encoded wire message;
// Critical frames (terminal call events) must survive backpressure.
type Event struct {
	Type     string
	Frame    []byte
	Critical bool
}

// SenderLookup resolves a connection id to its outbound path. Implemented by
// *registry.Registry.
type SenderLookup interface {
	Sender(connID string) (registry.Sender, bool)
}

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{} // channel -> set of connection ids
}

type connShard struct {
	mu          sync.Mutex
	memberships map[string]map[string]struct{} // connection id -> set of channels
}

type Bus struct {
	lookup  SenderLookup
	metrics *metrics.Metrics

	shards [shardCount]shard
	conns  [shardCount]connShard
}

func New(lookup SenderLookup, m *metrics.Metrics) *Bus {
	b := &Bus{lookup: lookup, metrics: m}
	for i := range b.shards {
		b.shards[i].channels = make(map[string]map[string]struct{})
	}
	for i := range b.conns {
		b.conns[i].memberships = make(map[string]map[string]struct{})
	}
	return b
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (b *Bus) channelShard(channel string) *shard {
	return &b.shards[shardIndex(channel)]
}

func (b *Bus) connShard(connID string) *connShard {
	return &b.conns[shardIndex(connID)]
}

func (b *Bus) Subscribe(channel, connID string) {
	s := b.channelShard(channel)
	s.mu.Lock()
	set, ok := s.channels[channel]
	if !ok {
		set = make(map[string]struct{})
		s.channels[channel] = set
	}
	set[connID] = struct{}{}
	s.mu.Unlock()

	cs := b.connShard(connID)
	cs.mu.Lock()
	chans, ok := cs.memberships[connID]
	if !ok {
		chans = make(map[string]struct{})
		cs.memberships[connID] = chans
	}
	chans[channel] = struct{}{}
	cs.mu.Unlock()
}

func (b *Bus) Unsubscribe(channel, connID string) {
	b.removeFromChannel(channel, connID)

	cs := b.connShard(connID)
	cs.mu.Lock()
	if chans, ok := cs.memberships[connID]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(cs.memberships, connID)
		}
	}
	cs.mu.Unlock()
}

// UnsubscribeAll removes the connection from every channel it joined. Called
// by the disconnect path so a dead connection id never lingers in a
// subscription set.
func (b *Bus) UnsubscribeAll(connID string) {
	cs := b.connShard(connID)
	cs.mu.Lock()
	chans := cs.memberships[connID]
	delete(cs.memberships, connID)
	cs.mu.Unlock()

	for channel := range chans {
		b.removeFromChannel(channel, connID)
	}
}

func (b *Bus) removeFromChannel(channel, connID string) {
	s := b.channelShard(channel)
	s.mu.Lock()
	if set, ok := s.channels[channel]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(s.channels, channel)
		}
	}
	s.mu.Unlock()
}

// Publish delivers ev to every connection currently subscribed to channel and
// returns the number of outbound queues that accepted it. Zero subscribers is
// a legal no-op.
func (b *Bus) Publish(channel string, ev Event) int {
	return b.publish(channel, ev, "")
}

// PublishExcept is Publish minus one connection. Used for multi-device
// suppression events, where the acting device must not receive its own echo.
func (b *Bus) PublishExcept(channel string, ev Event, exceptConnID string) int {
	return b.publish(channel, ev, exceptConnID)
}

func (b *Bus) publish(channel string, ev Event, exceptConnID string) int {
	s := b.channelShard(channel)
	s.mu.RLock()
	set := s.channels[channel]
	targets := make([]string, 0, len(set))
	for connID := range set {
		if connID == exceptConnID {
			continue
		}
		targets = append(targets, connID)
	}
	s.mu.RUnlock()

	b.metrics.Inc(metrics.EventsPublished)

	delivered := 0
	for _, connID := range targets {
		sender, ok := b.lookup.Sender(connID)
		if !ok {
			// Connection died between snapshot and delivery.
			continue
		}
		if sender.Send(ev.Frame, ev.Critical) {
			delivered++
		} else {
			b.metrics.Inc(metrics.DropReasonQueueFull)
		}
	}
	b.metrics.Add(metrics.EventsDelivered, uint64(delivered))
	return delivered
}

// Subscribers reports the current size of a channel's subscription set.
func (b *Bus) Subscribers(channel string) int {
	s := b.channelShard(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels[channel])
}
