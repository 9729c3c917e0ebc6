// Package scheduler runs one probe loop per protocol. Each loop ticks on
// an absolute schedule, runs its prober under an outer deadline, and
// enqueues exactly one record per completed tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"latencyprobe/internal/domain"
	"latencyprobe/internal/probe"
	"latencyprobe/internal/queue"
)

// DefaultGrace is added to the prober's own timeout to form the outer
// deadline that bounds a misbehaving runner.
const DefaultGrace = 500 * time.Millisecond

// Scheduler drives one prober at a fixed cadence.
type Scheduler struct {
	Logger   *zap.Logger
	Prober   probe.Prober
	Queue    *queue.Queue
	Interval time.Duration
	Timeout  time.Duration
	Grace    time.Duration
}

// New creates a Scheduler with the default grace.
func New(logger *zap.Logger, p probe.Prober, q *queue.Queue, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		Logger:   logger,
		Prober:   p,
		Queue:    q,
		Interval: interval,
		Timeout:  timeout,
		Grace:    DefaultGrace,
	}
}

// Run probes until ctx is cancelled. The next wake time advances by
// Interval on the fixed grid rather than from "now", so probe execution
// time does not accumulate as drift. Cancellation is observed at tick
// boundaries only; an in-flight probe finishes (bounded by the outer
// deadline) and its record is enqueued before the loop exits.
func (s *Scheduler) Run(ctx context.Context) {
	proto := string(s.Prober.Protocol())
	s.Logger.Info("scheduler_started",
		zap.String("protocol", proto),
		zap.String("target", s.Prober.Target()),
		zap.Duration("interval", s.Interval),
	)

	next := time.Now()
	for {
		if ctx.Err() != nil {
			s.Logger.Info("scheduler_stopped", zap.String("protocol", proto))
			return
		}

		next = next.Add(s.Interval)
		s.tick()

		sleep := time.Until(next)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler_stopped", zap.String("protocol", proto))
			return
		case <-time.After(sleep):
		}
	}
}

// tick runs one probe attempt under the outer deadline and enqueues its
// record. A runner that outlives timeout+grace is abandoned: the tick
// produces no record and the cancelled context releases the transport.
func (s *Scheduler) tick() {
	deadline := s.Timeout + s.grace()
	pctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	// Single-assignment completion cell; buffered so an abandoned
	// runner's late result never blocks its goroutine.
	done := make(chan probe.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reason := fmt.Sprintf("panic: %v", r)
				done <- probe.Result{Status: domain.StatusError, Reason: &reason}
			}
		}()
		done <- s.Prober.Probe(pctx)
	}()

	select {
	case res := <-done:
		s.enqueue(res)
	case <-pctx.Done():
		s.Logger.Warn("probe_abandoned",
			zap.String("protocol", string(s.Prober.Protocol())),
			zap.Duration("deadline", deadline),
		)
	}
}

func (s *Scheduler) enqueue(res probe.Result) {
	rec := domain.Record{
		Timestamp:  domain.Now(),
		Protocol:   s.Prober.Protocol(),
		Target:     s.Prober.Target(),
		DurationMS: res.DurationMS,
		Status:     res.Status,
		Reason:     res.Reason,
	}
	if !s.Queue.Enqueue(rec) {
		s.Logger.Warn("record_dropped_queue_full",
			zap.String("protocol", string(rec.Protocol)),
			zap.Uint64("dropped_total", s.Queue.Dropped()),
		)
		return
	}
	s.Logger.Debug("probe_recorded",
		zap.String("protocol", string(rec.Protocol)),
		zap.String("status", string(rec.Status)),
	)
}

func (s *Scheduler) grace() time.Duration {
	if s.Grace > 0 {
		return s.Grace
	}
	return DefaultGrace
}
