package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kaahochat/signalcore/internal/call"
)

func TestMemoryRecorder_KeepsArrivalOrder(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := rec.RecordCall(ctx, call.Record{CallID: id, Status: call.StatusEnded}); err != nil {
			t.Fatalf("RecordCall(%s): %v", id, err)
		}
	}

	got := rec.Records()
	if len(got) != 3 {
		t.Fatalf("len(Records())=%d, want 3", len(got))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if got[i].CallID != want {
			t.Fatalf("Records()[%d].CallID=%q, want %q", i, got[i].CallID, want)
		}
	}
}

func TestMemoryRecorder_CopyDoesNotAlias(t *testing.T) {
	rec := NewMemoryRecorder()
	_ = rec.RecordCall(context.Background(), call.Record{CallID: "c1"})

	got := rec.Records()
	got[0].CallID = "mutated"

	if again := rec.Records(); again[0].CallID != "c1" {
		t.Fatalf("internal record mutated through returned slice: %q", again[0].CallID)
	}
}

func TestMemoryRecorder_ConcurrentWrites(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = rec.RecordCall(ctx, call.Record{
					CallID:  "c",
					EndedAt: time.Now(),
				})
			}
		}()
	}
	wg.Wait()

	if n := len(rec.Records()); n != 400 {
		t.Fatalf("len(Records())=%d, want 400", n)
	}
}
