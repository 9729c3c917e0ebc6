package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"latencyprobe/internal/domain"
	"latencyprobe/internal/queue"
)

// fakeSink records every Append call and can fail the first N of them.
type fakeSink struct {
	mu       sync.Mutex
	batches  [][]domain.Record
	failNext int
}

func (f *fakeSink) Append(records []domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("disk full")
	}
	cp := make([]domain.Record, len(records))
	copy(cp, records)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) snapshot() [][]domain.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]domain.Record, len(f.batches))
	copy(out, f.batches)
	return out
}

func record(proto domain.Protocol, target string) domain.Record {
	return domain.Record{
		Timestamp: domain.Now(),
		Protocol:  proto,
		Target:    target,
		Status:    domain.StatusSuccess,
	}
}

func newWriter(s *fakeSink, queues map[domain.Protocol]*queue.Queue) *Writer {
	w := New(zap.NewNop(), queues, s)
	w.PollInterval = 5 * time.Millisecond
	return w
}

// Six records against batch_size 5: exactly one flush of 5, the residual
// record stays buffered until the final flush.
func TestWriter_SizeTriggeredFlush(t *testing.T) {
	q := queue.New(16)
	queues := map[domain.Protocol]*queue.Queue{domain.ProtocolTCP: q}
	s := &fakeSink{}
	w := newWriter(s, queues)
	w.BatchSize = 5
	w.FlushInterval = time.Hour

	for i := 0; i < 6; i++ {
		q.Enqueue(record(domain.ProtocolTCP, "t"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	if got := s.snapshot(); len(got) != 1 || len(got[0]) != 5 {
		t.Fatalf("want one flush of 5 before stop, got %d batches %v", len(got), sizes(got))
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := s.snapshot()
	if len(got) != 2 || len(got[1]) != 1 {
		t.Fatalf("final flush must write the residual 1, got batches %v", sizes(got))
	}
}

// A lone record is flushed once flush_interval elapses even though
// batch_size is never reached.
func TestWriter_TimeTriggeredFlush(t *testing.T) {
	q := queue.New(16)
	queues := map[domain.Protocol]*queue.Queue{domain.ProtocolICMP: q}
	s := &fakeSink{}
	w := newWriter(s, queues)
	w.BatchSize = 100
	w.FlushInterval = 20 * time.Millisecond

	q.Enqueue(record(domain.ProtocolICMP, "h"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(time.Second)
	for len(s.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("interval flush never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := s.snapshot()
	if len(got) != 1 || len(got[0]) != 1 {
		t.Fatalf("want exactly one flush of 1, got %v", sizes(got))
	}
}

// Stop with records still queued: the drain writes them exactly once, in
// submission order, before the writer terminates.
func TestWriter_DrainOnStop(t *testing.T) {
	q := queue.New(16)
	queues := map[domain.Protocol]*queue.Queue{domain.ProtocolUDP: q}
	s := &fakeSink{}
	w := newWriter(s, queues)
	w.BatchSize = 50
	w.FlushInterval = time.Hour

	q.Enqueue(record(domain.ProtocolUDP, "a"))
	q.Enqueue(record(domain.ProtocolUDP, "b"))
	q.Enqueue(record(domain.ProtocolUDP, "c"))

	// Context is already cancelled; Run must still drain and flush.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := s.snapshot()
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("want one final flush of 3, got %v", sizes(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[0][i].Target != want {
			t.Fatalf("order broken at %d: %s", i, got[0][i].Target)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d", q.Len())
	}
}

// A failing sink must not lose the buffer: the same batch is retried until
// the sink recovers, and every record is written exactly once.
func TestWriter_FlushFailureRetries(t *testing.T) {
	q := queue.New(16)
	queues := map[domain.Protocol]*queue.Queue{domain.ProtocolHTTP: q}
	s := &fakeSink{failNext: 2}
	w := newWriter(s, queues)
	w.BatchSize = 2
	w.FlushInterval = time.Hour

	q.Enqueue(record(domain.ProtocolHTTP, "x"))
	q.Enqueue(record(domain.ProtocolHTTP, "y"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(time.Second)
	for len(s.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("sink recovery never produced a flush")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := s.snapshot()
	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("want the batch exactly once after retries, got %v", sizes(got))
	}
	if got[0][0].Target != "x" || got[0][1].Target != "y" {
		t.Fatalf("batch content wrong: %+v", got[0])
	}
}

// A final flush that still fails surfaces the error instead of silently
// dropping the buffer.
func TestWriter_FinalFlushFailureIsReturned(t *testing.T) {
	q := queue.New(16)
	queues := map[domain.Protocol]*queue.Queue{domain.ProtocolTCP: q}
	s := &fakeSink{failNext: 1000}
	w := newWriter(s, queues)
	w.BatchSize = 50
	w.FlushInterval = time.Hour

	q.Enqueue(record(domain.ProtocolTCP, "t"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err == nil {
		t.Fatal("want error from failed final flush")
	}
}

func sizes(batches [][]domain.Record) []int {
	out := make([]int, len(batches))
	for i, b := range batches {
		out[i] = len(b)
	}
	return out
}
