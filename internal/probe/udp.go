package probe

import (
	"context"
	"net"
	"time"

	"latencyprobe/internal/domain"
)

// UDP sends a one-byte datagram and waits for any reply. Many UDP services
// never answer, so silence is an expected outcome: no reply within the
// timeout resolves to an error record with reason "timeout" (never to
// success, since there is no latency to report).
type UDP struct {
	addr    string
	timeout time.Duration
}

// NewUDP creates a UDP round-trip prober for an address in host:port form.
func NewUDP(addr string, timeout time.Duration) *UDP {
	return &UDP{addr: addr, timeout: timeout}
}

func (p *UDP) Protocol() domain.Protocol { return domain.ProtocolUDP }

func (p *UDP) Target() string { return p.addr }

func (p *UDP) Probe(ctx context.Context) Result {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "udp", p.addr)
	if err != nil {
		return Failure(err)
	}
	defer conn.Close()

	// A connected UDP socket also surfaces ICMP port-unreachable as a
	// read error, which lands in the record's reason.
	start := time.Now()
	if _, err := conn.Write([]byte{0x00}); err != nil {
		return Failure(err)
	}

	deadline := start.Add(p.timeout)
	if outer, ok := ctx.Deadline(); ok && outer.Before(deadline) {
		deadline = outer
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Failure(err)
	}

	buf := make([]byte, 512)
	if _, err := conn.Read(buf); err != nil {
		return Failure(err)
	}
	return Success(time.Since(start))
}
