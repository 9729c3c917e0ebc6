package queue

import (
	"fmt"
	"testing"

	"latencyprobe/internal/domain"
)

func record(n int) domain.Record {
	return domain.Record{
		Timestamp: domain.Now(),
		Protocol:  domain.ProtocolTCP,
		Target:    fmt.Sprintf("t%d", n),
		Status:    domain.StatusSuccess,
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := New(8)
	for i := 0; i < 5; i++ {
		if !q.Enqueue(record(i)) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("len: %d", q.Len())
	}
	for i := 0; i < 5; i++ {
		r, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d: empty", i)
		}
		if want := fmt.Sprintf("t%d", i); r.Target != want {
			t.Fatalf("order broken: got %s want %s", r.Target, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue must report false")
	}
}

func TestQueue_DropOnFull(t *testing.T) {
	q := New(2)
	if !q.Enqueue(record(0)) || !q.Enqueue(record(1)) {
		t.Fatal("enqueue within capacity failed")
	}
	if q.Enqueue(record(2)) {
		t.Fatal("enqueue on full queue must report false")
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped count: %d", q.Dropped())
	}

	// The two accepted records survive in order.
	r, _ := q.Dequeue()
	if r.Target != "t0" {
		t.Fatalf("head wrong after drop: %s", r.Target)
	}
}
