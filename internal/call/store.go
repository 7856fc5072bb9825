package call

import (
	"context"
	"sync"
)

// Store mirrors live session state so a deployment can swap the single-node
// in-memory table for a shared backend (see RedisStore) without touching the
// state machine. The Manager is the only writer; it saves a snapshot after
// every accepted transition and deletes it when the session is evicted.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, callID string) error
	Get(ctx context.Context, callID string) (Snapshot, bool, error)
}

// MemoryStore is the default single-node Store.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	s.m[snap.ID] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, callID string) error {
	s.mu.Lock()
	delete(s.m, callID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, callID string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.m[callID]
	return snap, ok, nil
}

// Len reports the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
