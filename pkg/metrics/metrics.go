// Package metrics provides the append-only metrics sink.
//
// Metrics land in two places: a dedicated metrics.db SQLite file (the
// durable record — axon itself never reads it back) and a Prometheus
// registry for live scraping. Writes are fail-open: a sink failure is
// logged and never propagates into the calling component.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/heliosarchitect/axon/pkg/store"
)

// Namespace is the Prometheus namespace for all axon metrics.
const Namespace = "axon"

const metricsDDL = `
CREATE TABLE IF NOT EXISTS metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    value REAL NOT NULL,
    labels TEXT NOT NULL DEFAULT '{}',
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_name ON metrics(name, recorded_at);
`

// Sink writes numeric and event metrics.
type Sink struct {
	db     *store.Store
	logger *slog.Logger

	events    *prometheus.CounterVec
	values    *prometheus.GaugeVec
	durations *prometheus.HistogramVec
}

// NewSink opens (creating if needed) the metrics database and registers
// the Prometheus collectors on the given registerer.
func NewSink(ctx context.Context, path string, reg prometheus.Registerer) (*Sink, error) {
	db, err := store.OpenBare(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Run(ctx, metricsDDL); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Sink{
		db:     db,
		logger: slog.Default().With("component", "metrics-sink"),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_total",
			Help:      "Count of named system events.",
		}, []string{"name"}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "value",
			Help:      "Last written value per metric name.",
		}, []string{"name"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "duration_seconds",
			Help:      "Histogram of recorded operation durations.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"name"}),
	}

	if reg != nil {
		reg.MustRegister(s.events, s.values, s.durations)
	}
	return s, nil
}

// WriteValue appends a numeric metric.
func (s *Sink) WriteValue(ctx context.Context, name string, value float64, labels map[string]string) {
	if s == nil {
		return
	}
	s.values.WithLabelValues(name).Set(value)
	s.append(ctx, name, value, labels)
}

// WriteEvent appends an occurrence-style metric with value 1.
func (s *Sink) WriteEvent(ctx context.Context, name string, labels map[string]string) {
	if s == nil {
		return
	}
	s.events.WithLabelValues(name).Inc()
	s.append(ctx, name, 1, labels)
}

// WriteDuration appends an operation duration.
func (s *Sink) WriteDuration(ctx context.Context, name string, d time.Duration, labels map[string]string) {
	if s == nil {
		return
	}
	s.durations.WithLabelValues(name).Observe(d.Seconds())
	s.append(ctx, name, float64(d.Milliseconds()), labels)
}

func (s *Sink) append(ctx context.Context, name string, value float64, labels map[string]string) {
	lbl := "{}"
	if len(labels) > 0 {
		if b, err := json.Marshal(labels); err == nil {
			lbl = string(b)
		}
	}
	if _, err := s.db.Run(ctx,
		"INSERT INTO metrics (name, value, labels, recorded_at) VALUES (?,?,?,?)",
		name, value, lbl, time.Now().UTC()); err != nil {
		s.logger.Warn("Failed to append metric", "name", name, "error", err)
	}
}

// Close closes the metrics database.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
