package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// GatewayProbe checks an HTTP health endpoint and tracks consecutive
// failures. The counter is the probe's only state; Reset clears it for
// test isolation.
type GatewayProbe struct {
	MockSupport
	base
	url    string
	client *http.Client

	mu           sync.Mutex
	consecErrors int
}

// NewGatewayProbe creates a gateway health probe. Source ID is "gateway".
func NewGatewayProbe(url string, interval time.Duration) *GatewayProbe {
	return &GatewayProbe{
		base:   base{sourceID: "gateway", interval: interval},
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears the consecutive-failure counter.
func (p *GatewayProbe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecErrors = 0
}

// ConsecutiveErrors returns the current failure streak.
func (p *GatewayProbe) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecErrors
}

// Poll issues a GET against the health endpoint. A transport error or
// non-2xx response increments the failure streak; the reading itself is
// still available with reachable=false so the classifier can act on it.
func (p *GatewayProbe) Poll(ctx context.Context) Reading {
	if r, ok := p.mockReading(p.sourceID); ok {
		return r
	}

	start := time.Now()
	reachable := false
	status := 0

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return unavailable(p.sourceID, fmt.Errorf("build request: %w", err))
	}

	resp, err := p.client.Do(req)
	if err == nil {
		status = resp.StatusCode
		reachable = status >= 200 && status < 300
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
	}

	p.mu.Lock()
	if reachable {
		p.consecErrors = 0
	} else {
		p.consecErrors++
	}
	streak := p.consecErrors
	p.mu.Unlock()

	return available(p.sourceID, map[string]any{
		"url":           p.url,
		"reachable":     reachable,
		"status":        status,
		"latency_ms":    time.Since(start).Milliseconds(),
		"consec_errors": streak,
	})
}
