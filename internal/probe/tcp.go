package probe

import (
	"context"
	"net"
	"time"

	"latencyprobe/internal/domain"
)

// TCP measures the time to establish a connection to host:port. The
// connection is closed immediately after it is established.
type TCP struct {
	addr    string
	timeout time.Duration
}

// NewTCP creates a TCP connect prober for an address in host:port form.
func NewTCP(addr string, timeout time.Duration) *TCP {
	return &TCP{addr: addr, timeout: timeout}
}

func (p *TCP) Protocol() domain.Protocol { return domain.ProtocolTCP }

func (p *TCP) Target() string { return p.addr }

func (p *TCP) Probe(ctx context.Context) Result {
	d := net.Dialer{Timeout: p.timeout}

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return Failure(err)
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return Success(elapsed)
}
