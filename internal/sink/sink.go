// Package sink holds the durable outputs the batch writer flushes to.
package sink

import "latencyprobe/internal/domain"

// Sink accepts whole batches of records. Append must be atomic from the
// caller's point of view: either the batch is durably written or an error
// is returned and the caller may retry the same batch.
type Sink interface {
	Append(records []domain.Record) error
	Close() error
}
