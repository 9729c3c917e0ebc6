// Package pipeline assembles the collection pipeline and enforces the
// shutdown ordering: cancellation -> schedulers stop at tick boundaries ->
// queues drain -> writer final flush -> sinks closed. No record enqueued
// before the stop signal is ever lost.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"latencyprobe/internal/config"
	"latencyprobe/internal/domain"
	"latencyprobe/internal/probe"
	"latencyprobe/internal/queue"
	"latencyprobe/internal/scheduler"
	"latencyprobe/internal/sink"
	"latencyprobe/internal/writer"
)

// Pipeline owns the schedulers, queues, writer, and sinks for one run.
type Pipeline struct {
	Logger     *zap.Logger
	Schedulers []*scheduler.Scheduler
	Queues     map[domain.Protocol]*queue.Queue
	Writer     *writer.Writer

	sinks []sink.Sink
}

// FromConfig builds the full pipeline: one prober, queue, and scheduler
// per protocol, the NDJSON file sink, the optional Influx mirror, and the
// batch writer consuming all four queues.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	fileSink, err := sink.NewFile(cfg.Output)
	if err != nil {
		return nil, err
	}

	probers := []probe.Prober{
		probe.NewICMP(cfg.Target, cfg.ICMP.Timeout, cfg.ICMP.Privileged),
		probe.NewTCP(cfg.TCPTarget(), cfg.TCP.Timeout),
		probe.NewUDP(cfg.UDPTarget(), cfg.UDP.Timeout),
		probe.NewHTTP(cfg.HTTPTarget(), cfg.HTTP.Timeout),
	}
	cadence := map[domain.Protocol]config.ProtocolConfig{
		domain.ProtocolICMP: cfg.ICMP.ProtocolConfig,
		domain.ProtocolTCP:  cfg.TCP.ProtocolConfig,
		domain.ProtocolUDP:  cfg.UDP.ProtocolConfig,
		domain.ProtocolHTTP: cfg.HTTP.ProtocolConfig,
	}

	p := &Pipeline{
		Logger: logger,
		Queues: make(map[domain.Protocol]*queue.Queue, len(probers)),
		sinks:  []sink.Sink{fileSink},
	}

	for _, pr := range probers {
		proto := pr.Protocol()
		q := queue.New(cfg.QueueSize)
		p.Queues[proto] = q

		s := scheduler.New(logger, pr, q, cadence[proto].Interval, cadence[proto].Timeout)
		s.Grace = cfg.Grace
		p.Schedulers = append(p.Schedulers, s)
	}

	w := writer.New(logger, p.Queues, fileSink)
	w.BatchSize = cfg.BatchSize
	w.FlushInterval = cfg.FlushInterval
	w.PollInterval = cfg.PollInterval
	if cfg.Influx.Enabled() {
		mirror := sink.NewInflux(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		w.Mirror = mirror
		p.sinks = append(p.sinks, mirror)
	}
	p.Writer = w

	return p, nil
}

// Run blocks until ctx is cancelled, then drains and flushes everything
// before returning. The writer gets its own context, cancelled only after
// every scheduler has stopped, so the drain condition cannot race a
// scheduler's final enqueue.
func (p *Pipeline) Run(ctx context.Context) error {
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	var werr error
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		werr = p.Writer.Run(writerCtx)
	}()

	var wg sync.WaitGroup
	for _, s := range p.Schedulers {
		wg.Add(1)
		go func(s *scheduler.Scheduler) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}

	wg.Wait()
	stopWriter()
	<-writerDone

	for proto, q := range p.Queues {
		if d := q.Dropped(); d > 0 {
			p.Logger.Warn("records_dropped_total",
				zap.String("protocol", string(proto)),
				zap.Uint64("dropped", d),
			)
		}
	}

	err := werr
	for _, s := range p.sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}
