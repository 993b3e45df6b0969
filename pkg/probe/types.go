// Package probe provides the polled data-source framework for the
// self-healing engine.
//
// A probe is a capability set {source id, poll interval, freshness
// threshold, Poll}. Probes never return errors: unavailability is a
// Reading with Available=false and the error text attached. Probes are
// stateless apart from bounded counters (e.g. the gateway probe's
// consecutive-failure counter), which expose Reset() for test isolation.
package probe

import (
	"context"
	"sync"
	"time"
)

// Reading is one timestamped observation from a probe.
type Reading struct {
	SourceID   string
	CapturedAt time.Time
	// Freshness is the age of the underlying data at capture time.
	// Zero means the reading was taken live.
	Freshness time.Duration
	Data      map[string]any
	Available bool
	Err       string
}

// Probe is the uniform data-source adapter contract.
type Probe interface {
	SourceID() string
	PollInterval() time.Duration
	// FreshnessThreshold is the staleness bound; by convention twice the
	// poll interval.
	FreshnessThreshold() time.Duration
	Poll(ctx context.Context) Reading
}

// Stale reports whether the reading exceeds the probe's freshness bound.
func Stale(r Reading, threshold time.Duration) bool {
	if !r.Available {
		return false
	}
	return r.Freshness > threshold
}

// MockSupport implements the SetMockData test affordance. Embed it in a
// probe and call mockReading first in Poll.
type MockSupport struct {
	mu      sync.Mutex
	mock    map[string]any
	mockSet bool
}

// SetMockData makes subsequent polls return the given data without
// touching the real source. Part of the probe contract.
func (m *MockSupport) SetMockData(data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mock = data
	m.mockSet = true
}

// ClearMockData restores real polling.
func (m *MockSupport) ClearMockData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mock = nil
	m.mockSet = false
}

// mockReading returns a synthetic reading when mock data is set.
func (m *MockSupport) mockReading(sourceID string) (Reading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mockSet {
		return Reading{}, false
	}
	data := make(map[string]any, len(m.mock))
	for k, v := range m.mock {
		data[k] = v
	}
	return Reading{
		SourceID:   sourceID,
		CapturedAt: time.Now().UTC(),
		Data:       data,
		Available:  true,
	}, true
}
