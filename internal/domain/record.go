// Package domain holds the types shared by the collection pipeline and the
// query service: the probed protocols, probe statuses, and the Record that
// crosses the queues and lands in the durable sink.
package domain

import (
	"fmt"
	"time"
)

// Protocol identifies the wire protocol a record was measured over.
type Protocol string

const (
	ProtocolICMP Protocol = "icmp"
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolHTTP Protocol = "http"
)

// Protocols lists all supported protocols in the order used for
// deterministic iteration (buffer flushing, final flush).
var Protocols = []Protocol{ProtocolICMP, ProtocolTCP, ProtocolUDP, ProtocolHTTP}

// ParseProtocol validates a protocol string.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(s)
	for _, known := range Protocols {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// Status is the outcome class of a single probe.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Timestamp marshals as ISO-8601 UTC with millisecond precision and a
// trailing Z, e.g. "2024-01-01T00:00:02.104Z". Consumers filter on this
// field, so the format is part of the sink contract.
type Timestamp time.Time

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("timestamp must be a JSON string, got %s", b)
	}
	parsed, err := time.Parse(time.RFC3339, string(b[1:len(b)-1]))
	if err != nil {
		return err
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// Record is one probe outcome as persisted to the sink. DurationMS and
// Reason use pointers so that absent values serialize as null rather than
// being omitted; field names are fixed by the downstream contract.
type Record struct {
	Timestamp  Timestamp `json:"timestamp"`
	Protocol   Protocol  `json:"protocol"`
	Target     string    `json:"target"`
	DurationMS *float64  `json:"duration_ms"`
	Status     Status    `json:"status"`
	Reason     *string   `json:"reason"`
}
