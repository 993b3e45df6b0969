package rtl

import (
	"context"
	"log/slog"
	"sync"

	"github.com/heliosarchitect/axon/pkg/metrics"
)

// Handler processes one dequeued detection.
type Handler func(ctx context.Context, p DetectionPayload)

// Queue is the bounded detection queue. Enqueue never blocks: a full
// queue drops the detection with an error metric. A single drain
// goroutine calls the handler; handler panics are recovered so the
// loop survives.
type Queue struct {
	ch      chan DetectionPayload
	handler Handler
	sink    *metrics.Sink
	logger  *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
	mu       sync.Mutex
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int, handler Handler, sink *metrics.Sink) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		ch:      make(chan DetectionPayload, capacity),
		handler: handler,
		sink:    sink,
		logger:  slog.Default().With("component", "rtl-queue"),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue adds a detection without blocking. Invalid payloads and
// overflow are dropped; both are observable via metrics.
func (q *Queue) Enqueue(p DetectionPayload) bool {
	if err := p.Validate(); err != nil {
		q.logger.Warn("Rejected detection payload", "error", err)
		q.sink.WriteEvent(context.Background(), "rtl_enqueue_rejected", map[string]string{
			"type": string(p.Type),
		})
		return false
	}
	select {
	case q.ch <- p:
		return true
	default:
		q.logger.Warn("Detection queue full, dropping",
			"type", p.Type, "source", p.Source)
		q.sink.WriteEvent(context.Background(), "rtl_enqueue_dropped", map[string]string{
			"type": string(p.Type),
		})
		return false
	}
}

// Start launches the drain loop.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.drain(ctx)
}

// Stop ends the drain loop after the current item and waits for it.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if started {
		<-q.done
	}
}

// Len reports queued items; test and health visibility.
func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) drain(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case p := <-q.ch:
			q.handle(ctx, p)
		}
	}
}

// handle isolates handler panics so one bad detection cannot stop the
// drain loop.
func (q *Queue) handle(ctx context.Context, p DetectionPayload) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Detection handler panicked",
				"type", p.Type, "source", p.Source, "panic", r)
			q.sink.WriteEvent(ctx, "rtl_handler_panic", map[string]string{
				"type": string(p.Type),
			})
		}
	}()
	q.handler(ctx, p)
}
