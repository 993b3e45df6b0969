package probe

import (
	"context"
	"time"
)

// base carries the identity/timing fields common to the builtin probes.
// FreshnessThreshold is twice the poll interval by convention.
type base struct {
	sourceID string
	interval time.Duration
}

func (b base) SourceID() string                  { return b.sourceID }
func (b base) PollInterval() time.Duration       { return b.interval }
func (b base) FreshnessThreshold() time.Duration { return 2 * b.interval }

// unavailable builds the uniform unavailable reading. Probes never return
// errors; callers see Available=false with the error text.
func unavailable(sourceID string, err error) Reading {
	return Reading{
		SourceID:   sourceID,
		CapturedAt: time.Now().UTC(),
		Data:       map[string]any{},
		Available:  false,
		Err:        err.Error(),
	}
}

func available(sourceID string, data map[string]any) Reading {
	return Reading{
		SourceID:   sourceID,
		CapturedAt: time.Now().UTC(),
		Data:       data,
		Available:  true,
	}
}

// FuncProbe adapts a plain function into a Probe. Used in tests and for
// one-off sources that don't warrant a type.
type FuncProbe struct {
	MockSupport
	base
	fn func(ctx context.Context) Reading
}

// NewFuncProbe creates a probe backed by fn.
func NewFuncProbe(sourceID string, interval time.Duration, fn func(ctx context.Context) Reading) *FuncProbe {
	return &FuncProbe{
		base: base{sourceID: sourceID, interval: interval},
		fn:   fn,
	}
}

// Poll returns mock data when set, else calls the function.
func (p *FuncProbe) Poll(ctx context.Context) Reading {
	if r, ok := p.mockReading(p.sourceID); ok {
		return r
	}
	return p.fn(ctx)
}
