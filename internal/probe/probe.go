// Package probe implements the per-protocol runners. Each Prober executes
// one reachability/latency attempt against its target and folds every
// failure mode into a Result; nothing escapes the Probe call. Elapsed time
// is taken from the monotonic clock (time.Since), never wall time.
package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"latencyprobe/internal/domain"
)

// ErrTimeout marks a probe that did not complete within its deadline.
// Records built from it carry reason "timeout".
var ErrTimeout = errors.New("timeout")

// Result is the outcome of one probe attempt. DurationMS is set only on
// success; Reason only on error.
type Result struct {
	DurationMS *float64
	Status     domain.Status
	Reason     *string
}

// Prober runs one probe attempt for one protocol variant.
type Prober interface {
	// Protocol returns the protocol this prober measures.
	Protocol() domain.Protocol

	// Target returns the resolved address or URL probed, as persisted
	// in each record's target field.
	Target() string

	// Probe executes a single attempt. The context carries the outer
	// deadline; implementations must release their transport when it
	// expires.
	Probe(ctx context.Context) Result
}

// Success builds a successful Result from a measured round trip.
func Success(elapsed time.Duration) Result {
	ms := elapsed.Seconds() * 1000
	return Result{DurationMS: &ms, Status: domain.StatusSuccess}
}

// Failure builds an error Result. Deadline-style errors are normalized to
// reason "timeout"; anything else keeps its message.
func Failure(err error) Result {
	reason := err.Error()
	if isTimeout(err) {
		reason = ErrTimeout.Error()
	}
	return Result{Status: domain.StatusError, Reason: &reason}
}

// Measure times fn on the monotonic clock and converts its outcome into
// a Result.
func Measure(fn func() error) Result {
	start := time.Now()
	if err := fn(); err != nil {
		return Failure(err)
	}
	return Success(time.Since(start))
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
