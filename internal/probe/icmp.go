package probe

import (
	"context"
	"time"

	"github.com/go-ping/ping"

	"latencyprobe/internal/domain"
)

// ICMP sends a single echo request and waits for the reply. The reported
// latency is the round-trip time of that one packet.
type ICMP struct {
	host       string
	timeout    time.Duration
	privileged bool
}

// NewICMP creates an ICMP prober. With privileged false the pinger uses
// unprivileged UDP datagrams (net.ipv4.ping_group_range must allow it).
func NewICMP(host string, timeout time.Duration, privileged bool) *ICMP {
	return &ICMP{host: host, timeout: timeout, privileged: privileged}
}

func (p *ICMP) Protocol() domain.Protocol { return domain.ProtocolICMP }

func (p *ICMP) Target() string { return p.host }

func (p *ICMP) Probe(ctx context.Context) Result {
	pinger, err := ping.NewPinger(p.host)
	if err != nil {
		return Failure(err)
	}
	pinger.Count = 1
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	// Release the socket if the outer deadline abandons this attempt.
	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := pinger.Run(); err != nil {
		return Failure(err)
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		// Run returns nil on packet loss; no reply within the
		// timeout is a timeout.
		return Failure(ErrTimeout)
	}
	return Success(stats.AvgRtt)
}
