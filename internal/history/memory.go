package history

import (
	"context"
	"sync"

	"github.com/kaahochat/signalcore/internal/call"
)

// MemoryRecorder keeps finalized calls in memory. It is the default sink
// when no database is configured and the one tests use.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []call.Record
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) RecordCall(_ context.Context, rec call.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far, in arrival order.
func (r *MemoryRecorder) Records() []call.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]call.Record, len(r.records))
	copy(out, r.records)
	return out
}
