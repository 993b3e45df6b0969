package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReadingHandler receives each reading as it is captured.
type ReadingHandler func(ctx context.Context, r Reading)

// Scheduler polls every registered probe on its own timer. One goroutine
// per probe; readings are handed to a single handler (the healing engine).
type Scheduler struct {
	registry *Registry
	handler  ReadingHandler
	interval func(sourceID string, fallback time.Duration) time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex

	lastPoll map[string]time.Time
	pollMu   sync.RWMutex

	logger *slog.Logger
}

// NewScheduler creates a scheduler over a registry. intervalFn resolves
// per-probe interval overrides (config); nil uses each probe's default.
func NewScheduler(registry *Registry, handler ReadingHandler,
	intervalFn func(sourceID string, fallback time.Duration) time.Duration) *Scheduler {
	if intervalFn == nil {
		intervalFn = func(_ string, fallback time.Duration) time.Duration { return fallback }
	}
	return &Scheduler{
		registry: registry,
		handler:  handler,
		interval: intervalFn,
		stopCh:   make(chan struct{}),
		lastPoll: make(map[string]time.Time),
		logger:   slog.Default().With("component", "probe-scheduler"),
	}
}

// Start spawns one polling goroutine per probe. Safe to call once;
// subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("Scheduler already started, ignoring duplicate Start call")
		return
	}
	s.started = true
	s.mu.Unlock()

	probes := s.registry.All()
	s.logger.Info("Starting probe scheduler", "probe_count", len(probes))

	for _, p := range probes {
		s.wg.Add(1)
		go func(p Probe) {
			defer s.wg.Done()
			s.runProbe(ctx, p)
		}(p)
	}
}

// Stop signals all polling goroutines and waits for them to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Probe scheduler stopped")
}

// runProbe is the per-probe polling loop. An immediate first poll, then
// ticks at the resolved interval.
func (s *Scheduler) runProbe(ctx context.Context, p Probe) {
	interval := s.interval(p.SourceID(), p.PollInterval())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.pollOnce(ctx, p)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx, p)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context, p Probe) {
	reading := p.Poll(ctx)

	s.pollMu.Lock()
	s.lastPoll[p.SourceID()] = time.Now()
	s.pollMu.Unlock()

	if s.handler != nil {
		s.handler(ctx, reading)
	}
}

// Health reports last poll times per source, for the health endpoint.
func (s *Scheduler) Health() map[string]time.Time {
	s.pollMu.RLock()
	defer s.pollMu.RUnlock()
	out := make(map[string]time.Time, len(s.lastPoll))
	for k, v := range s.lastPoll {
		out[k] = v
	}
	return out
}
