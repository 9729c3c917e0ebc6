// Package writer implements the single consumer that drains every result
// queue, buffers per protocol, and flushes to the durable sink on size or
// time triggers. Once Run returns without error, every record that was
// ever enqueued has been written exactly once.
package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"latencyprobe/internal/domain"
	"latencyprobe/internal/queue"
	"latencyprobe/internal/sink"
)

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = time.Second
	DefaultPollInterval  = 200 * time.Millisecond
)

// Writer is the batch writer. Mirror, when set, receives a best-effort
// copy of every batch after the primary sink accepted it; mirror failures
// are logged but never block the pipeline.
type Writer struct {
	Logger        *zap.Logger
	Queues        map[domain.Protocol]*queue.Queue
	Sink          sink.Sink
	Mirror        sink.Sink
	BatchSize     int
	FlushInterval time.Duration
	PollInterval  time.Duration
}

// New creates a Writer with default batching parameters.
func New(logger *zap.Logger, queues map[domain.Protocol]*queue.Queue, s sink.Sink) *Writer {
	return &Writer{
		Logger:        logger,
		Queues:        queues,
		Sink:          s,
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		PollInterval:  DefaultPollInterval,
	}
}

// Run loops until ctx is cancelled AND every queue has been drained, then
// performs one unconditional final flush. A failed flush keeps its buffer
// and is retried on the next cycle; only a failure of the final flush is
// returned. The caller must not cancel ctx until all producers have
// stopped, otherwise a record enqueued after the last drain pass could be
// missed.
func (w *Writer) Run(ctx context.Context) error {
	buffers := make(map[domain.Protocol][]domain.Record, len(w.Queues))
	lastFlush := time.Now()

	for ctx.Err() == nil || w.queued() {
		for _, proto := range domain.Protocols {
			q, ok := w.Queues[proto]
			if !ok {
				continue
			}
			for {
				rec, ok := q.Dequeue()
				if !ok {
					break
				}
				buffers[proto] = append(buffers[proto], rec)
				// Check per record so a burst flushes in
				// batch-size chunks, not one oversized write.
				if len(buffers[proto]) >= w.BatchSize {
					w.flush(proto, buffers)
				}
			}
		}

		// Time-based flush so low-traffic protocols never languish.
		if time.Since(lastFlush) >= w.FlushInterval {
			for _, proto := range domain.Protocols {
				if len(buffers[proto]) > 0 {
					w.flush(proto, buffers)
				}
			}
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			// Draining; fall through without sleeping.
		case <-time.After(w.PollInterval):
		}
	}

	var errs error
	for _, proto := range domain.Protocols {
		buf := buffers[proto]
		if len(buf) == 0 {
			continue
		}
		if err := w.append(buf); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("final flush %s: %w", proto, err))
			continue
		}
		buffers[proto] = nil
	}
	if errs == nil {
		w.Logger.Info("writer_drained")
	}
	return errs
}

// flush writes one protocol's buffer, clearing it only on success so a
// failed write is retried with the same records.
func (w *Writer) flush(proto domain.Protocol, buffers map[domain.Protocol][]domain.Record) {
	buf := buffers[proto]
	if err := w.append(buf); err != nil {
		w.Logger.Error("flush_failed",
			zap.String("protocol", string(proto)),
			zap.Int("records", len(buf)),
			zap.Error(err),
		)
		return
	}
	w.Logger.Debug("flushed",
		zap.String("protocol", string(proto)),
		zap.Int("records", len(buf)),
	)
	buffers[proto] = buf[:0]
}

func (w *Writer) append(records []domain.Record) error {
	if err := w.Sink.Append(records); err != nil {
		return err
	}
	if w.Mirror != nil {
		if err := w.Mirror.Append(records); err != nil {
			w.Logger.Warn("mirror_append_failed",
				zap.Int("records", len(records)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (w *Writer) queued() bool {
	for _, q := range w.Queues {
		if q.Len() > 0 {
			return true
		}
	}
	return false
}
