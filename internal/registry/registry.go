// Package registry tracks live client connections and the identity each one
// is bound to. It is the sole owner of presence membership: an identity is
// online exactly while it has at least one registered, authenticated
// connection.
package registry

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/kaahochat/signalcore/internal/ratelimit"
)

var (
	ErrDuplicateConnection  = errors.New("registry: connection id already registered")
	ErrUnknownConnection    = errors.New("registry: unknown connection id")
	ErrAlreadyAuthenticated = errors.New("registry: connection bound to a different identity")
)

// Sender is a connection's outbound path. Send hands a pre-encoded frame to
// the connection's bounded queue and reports whether it was accepted; it must
// never block on the remote peer. Critical frames must not be dropped even
// under backpressure.
type Sender interface {
	Send(frame []byte, critical bool) bool
}

// Connection is the registry's record of one live transport stream.
type Connection struct {
	ID        string
	Identity  string // empty until authenticated
	CreatedAt time.Time

	sender Sender
}

const shardCount = 32

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// identityShard guards the presence set of every identity hashing to it.
// Operations on different identities in different shards proceed in parallel;
// operations on the same identity are mutually exclusive.
type identityShard struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // identity -> set of connection ids
}

type Registry struct {
	clock ratelimit.Clock

	conns      [shardCount]connShard
	identities [shardCount]identityShard
}

func New(clock ratelimit.Clock) *Registry {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	r := &Registry{clock: clock}
	for i := range r.conns {
		r.conns[i].conns = make(map[string]*Connection)
	}
	for i := range r.identities {
		r.identities[i].members = make(map[string]map[string]struct{})
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (r *Registry) connShard(connID string) *connShard {
	return &r.conns[shardIndex(connID)]
}

func (r *Registry) identityShard(identity string) *identityShard {
	return &r.identities[shardIndex(identity)]
}

// Register creates a tracked, unauthenticated connection.
func (r *Registry) Register(connID string, sender Sender) error {
	cs := r.connShard(connID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.conns[connID]; ok {
		return ErrDuplicateConnection
	}
	cs.conns[connID] = &Connection{
		ID:        connID,
		CreatedAt: r.clock.Now(),
		sender:    sender,
	}
	return nil
}

// Authenticate binds a connection to an identity exactly once.
//
// Re-authentication with the same identity is a no-op; with a different
// identity it fails with ErrAlreadyAuthenticated. The returned first flag is
// true when this connection took the identity from zero to one live
// connections (the presence online edge).
func (r *Registry) Authenticate(connID, identity string) (first bool, err error) {
	cs := r.connShard(connID)
	cs.mu.Lock()
	conn, ok := cs.conns[connID]
	if !ok {
		cs.mu.Unlock()
		return false, ErrUnknownConnection
	}
	switch conn.Identity {
	case "":
		conn.Identity = identity
	case identity:
		cs.mu.Unlock()
		return false, nil
	default:
		cs.mu.Unlock()
		return false, ErrAlreadyAuthenticated
	}
	cs.mu.Unlock()

	is := r.identityShard(identity)
	is.mu.Lock()
	defer is.mu.Unlock()

	set, ok := is.members[identity]
	if !ok {
		set = make(map[string]struct{})
		is.members[identity] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1, nil
}

// Unregister removes the connection. It returns the bound identity (empty if
// the connection never authenticated) and whether this was the identity's
// last live connection (the presence offline edge).
func (r *Registry) Unregister(connID string) (identity string, last bool, ok bool) {
	cs := r.connShard(connID)
	cs.mu.Lock()
	conn, found := cs.conns[connID]
	if !found {
		cs.mu.Unlock()
		return "", false, false
	}
	delete(cs.conns, connID)
	identity = conn.Identity
	cs.mu.Unlock()

	if identity == "" {
		return "", false, true
	}

	is := r.identityShard(identity)
	is.mu.Lock()
	defer is.mu.Unlock()

	set, found := is.members[identity]
	if !found {
		return identity, false, true
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(is.members, identity)
		return identity, true, true
	}
	return identity, false, true
}

// ConnectionsFor returns the identity's live connection ids, sorted for
// deterministic iteration.
func (r *Registry) ConnectionsFor(identity string) []string {
	is := r.identityShard(identity)
	is.mu.RLock()
	defer is.mu.RUnlock()

	set := is.members[identity]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsOnline(identity string) bool {
	is := r.identityShard(identity)
	is.mu.RLock()
	defer is.mu.RUnlock()
	return len(is.members[identity]) > 0
}

// OnlineIdentities returns all identities with at least one live connection.
func (r *Registry) OnlineIdentities() []string {
	var out []string
	for i := range r.identities {
		is := &r.identities[i]
		is.mu.RLock()
		for identity := range is.members {
			out = append(out, identity)
		}
		is.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Sender returns the outbound path for a connection, if it is still
// registered. The bus holds connection ids only and resolves them here, so a
// sender can never outlive its connection.
func (r *Registry) Sender(connID string) (Sender, bool) {
	cs := r.connShard(connID)
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	conn, ok := cs.conns[connID]
	if !ok {
		return nil, false
	}
	return conn.sender, true
}

// Identity returns the identity bound to a connection, if any.
func (r *Registry) Identity(connID string) (string, bool) {
	cs := r.connShard(connID)
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	conn, ok := cs.conns[connID]
	if !ok || conn.Identity == "" {
		return "", false
	}
	return conn.Identity, true
}

// ActiveConnections reports the number of registered connections.
func (r *Registry) ActiveConnections() int {
	n := 0
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		n += len(cs.conns)
		cs.mu.RUnlock()
	}
	return n
}
