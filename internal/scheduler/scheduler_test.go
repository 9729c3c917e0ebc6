package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"latencyprobe/internal/domain"
	"latencyprobe/internal/probe"
	"latencyprobe/internal/queue"
)

// fakeProber completes after delay, ignoring or honoring ctx per respectCtx.
type fakeProber struct {
	delay      time.Duration
	respectCtx bool
	calls      atomic.Int64
}

func (f *fakeProber) Protocol() domain.Protocol { return domain.ProtocolTCP }
func (f *fakeProber) Target() string            { return "127.0.0.1:80" }

func (f *fakeProber) Probe(ctx context.Context) probe.Result {
	f.calls.Add(1)
	if f.respectCtx {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return probe.Failure(ctx.Err())
		}
	} else {
		time.Sleep(f.delay)
	}
	return probe.Measure(func() error { return nil })
}

func TestScheduler_OneRecordPerTick(t *testing.T) {
	q := queue.New(64)
	p := &fakeProber{delay: time.Millisecond, respectCtx: true}
	s := New(zap.NewNop(), p, q, 20*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	time.Sleep(90 * time.Millisecond)
	cancel()
	<-done

	calls := int(p.calls.Load())
	if calls == 0 {
		t.Fatal("prober never called")
	}
	if q.Len() != calls {
		t.Fatalf("every completed tick must enqueue exactly one record: %d calls, %d records", calls, q.Len())
	}
}

// With a probe consuming half the interval, absolute next-tick scheduling
// keeps the cadence on the nominal grid instead of stretching each period
// to interval+probe time.
func TestScheduler_DriftFree(t *testing.T) {
	q := queue.New(64)
	p := &fakeProber{delay: 10 * time.Millisecond, respectCtx: true}
	s := New(zap.NewNop(), p, q, 20*time.Millisecond, 15*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// ~10 nominal intervals. Naive now+interval scheduling would manage
	// only ~7 ticks in this window.
	time.Sleep(215 * time.Millisecond)
	cancel()
	<-done

	calls := int(p.calls.Load())
	if calls < 9 || calls > 12 {
		t.Fatalf("cadence drifted: %d ticks in ~10 intervals", calls)
	}
}

func TestScheduler_AbandonsOverrunningRunner(t *testing.T) {
	q := queue.New(64)
	// Ignores its context and overruns timeout+grace.
	p := &fakeProber{delay: 200 * time.Millisecond, respectCtx: false}
	s := New(zap.NewNop(), p, q, 30*time.Millisecond, 10*time.Millisecond)
	s.Grace = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if calls := p.calls.Load(); calls < 2 {
		t.Fatalf("a bad tick must not stall the loop, got %d calls", calls)
	}
	// Abandoned ticks are dropped with no record.
	if q.Len() != 0 {
		t.Fatalf("abandoned ticks must not enqueue records, got %d", q.Len())
	}
}

func TestScheduler_StopsAtTickBoundary(t *testing.T) {
	q := queue.New(64)
	p := &fakeProber{delay: time.Millisecond, respectCtx: true}
	s := New(zap.NewNop(), p, q, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// First tick fires immediately, then the loop sleeps for an hour;
	// cancellation must end the sleep promptly.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	if q.Len() != 1 {
		t.Fatalf("want the single pre-stop record, got %d", q.Len())
	}
}
