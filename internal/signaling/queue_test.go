package signaling

import (
	"bytes"
	"testing"
)

func TestSendQueue_FIFO(t *testing.T) {
	q := newSendQueue(8, 1024)
	for _, s := range []string{"a", "b", "c"} {
		if !q.Enqueue([]byte(s), false) {
			t.Fatalf("Enqueue(%q)=false, want true", s)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Dequeue()
		if !ok || !bytes.Equal(got, []byte(want)) {
			t.Fatalf("Dequeue()=(%q, %v), want (%q, true)", got, ok, want)
		}
	}
}

func TestSendQueue_FrameBudget(t *testing.T) {
	q := newSendQueue(2, 1024)
	q.Enqueue([]byte("a"), false)
	q.Enqueue([]byte("b"), false)

	if q.Enqueue([]byte("c"), false) {
		t.Fatal("Enqueue over frame budget=true, want false")
	}
	if q.DropCount() != 1 {
		t.Fatalf("DropCount()=%d, want 1", q.DropCount())
	}
}

func TestSendQueue_ByteBudget(t *testing.T) {
	q := newSendQueue(100, 10)
	q.Enqueue(make([]byte, 8), false)

	if q.Enqueue(make([]byte, 4), false) {
		t.Fatal("Enqueue over byte budget=true, want false")
	}
}

func TestSendQueue_CriticalBypassesBudget(t *testing.T) {
	q := newSendQueue(1, 4)
	q.Enqueue([]byte("full"), false)

	if !q.Enqueue([]byte("call ended"), true) {
		t.Fatal("critical Enqueue on full queue=false, want true")
	}
}

func TestSendQueue_CloseRefusesEverything(t *testing.T) {
	q := newSendQueue(8, 1024)
	q.Enqueue([]byte("a"), false)
	q.Close()

	if q.Enqueue([]byte("b"), true) {
		t.Fatal("Enqueue after Close=true, want false")
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("Dequeue after Close=ok, want closed")
	}
}

func TestSendQueue_CloseUnblocksDequeue(t *testing.T) {
	q := newSendQueue(8, 1024)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	q.Close()
	if ok := <-done; ok {
		t.Fatal("Dequeue unblocked by Close returned ok=true, want false")
	}
}
