package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"latencyprobe/internal/domain"
)

// HTTP issues a GET against a URL and measures the full request/response
// round trip. Statuses below 400 count as success; anything else becomes
// an error record carrying the status line.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP GET prober. The timeout bounds the whole
// exchange including body read.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTP) Protocol() domain.Protocol { return domain.ProtocolHTTP }

func (p *HTTP) Target() string { return p.url }

func (p *HTTP) Probe(ctx context.Context) Result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Failure(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Failure(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	elapsed := time.Since(start)

	if resp.StatusCode >= 400 {
		return Failure(fmt.Errorf("unexpected status %s", resp.Status))
	}
	return Success(elapsed)
}
