package compress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/metrics"
)

// Runner orchestrates one full compression pass: scan, cluster,
// distill, archive, enrich, report.
type Runner struct {
	cfg       *config.CompressionConfig
	memories  *MemoryStore
	finder    *Finder
	distiller *Distiller
	writer    *Writer
	enricher  *Enricher
	reporter  *Reporter
	sink      *metrics.Sink
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
	now  func() time.Time
}

// Deps collects the runner's collaborators.
type Deps struct {
	Config    *config.CompressionConfig
	Memories  *MemoryStore
	Distiller *Distiller
	Writer    *Writer
	Enricher  *Enricher
	Reporter  *Reporter
	Sink      *metrics.Sink
}

// NewRunner wires a compression runner.
func NewRunner(d Deps) *Runner {
	return &Runner{
		cfg:       d.Config,
		memories:  d.Memories,
		finder:    NewFinder(d.Config),
		distiller: d.Distiller,
		writer:    d.Writer,
		enricher:  d.Enricher,
		reporter:  d.Reporter,
		sink:      d.Sink,
		logger:    slog.Default().With("component", "compression-runner"),
		seen:      make(map[string]bool),
		now:       time.Now,
	}
}

// Reset clears the fingerprint cache.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]bool)
}

// Run executes one compression pass. Per-cluster failures land in the
// report's error list; the pass keeps going. The returned report is
// also persisted as a JSON artifact and a compression_log row.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.now().UTC()
	rep := &Report{
		RunID:     ulid.Make().String(),
		StartedAt: start,
	}

	members, err := r.memories.Eligible(ctx, start.Add(-r.cfg.MinMemoryAge))
	if err != nil {
		return nil, err
	}
	rep.MemoriesScanned = len(members)

	byID := make(map[string]MemoryRecord, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	clusters := r.finder.Find(members)
	rep.ClustersFound = len(clusters)

	for i := range clusters {
		cl := &clusters[i]
		if r.alreadySeen(cl.Fingerprint) {
			rep.ClustersSkipped++
			continue
		}
		r.compressOne(ctx, cl, byID, rep)
	}

	rep.CompletedAt = r.now().UTC()
	if _, err := r.reporter.Write(ctx, rep); err != nil {
		return rep, err
	}

	r.sink.WriteDuration(ctx, "compress_run", rep.CompletedAt.Sub(start), map[string]string{
		"run_id":     rep.RunID,
		"clusters":   fmt.Sprintf("%d", rep.ClustersFound),
		"compressed": fmt.Sprintf("%d", rep.Compressed),
	})
	r.logger.Info("Compression run completed", "summary", rep.Summary())
	return rep, nil
}

func (r *Runner) compressOne(ctx context.Context, cl *Cluster, byID map[string]MemoryRecord, rep *Report) {
	group := make([]MemoryRecord, 0, len(cl.MemberIDs))
	for _, id := range cl.MemberIDs {
		group = append(group, byID[id])
	}

	dist, refusal, err := r.distiller.Distill(ctx, cl, group)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return
	}
	if refusal != nil {
		rep.ClustersRefused++
		r.sink.WriteEvent(ctx, "compress_policy_refusal", map[string]string{
			"cluster": cl.ID,
			"reason":  refusal.Reason,
		})
		r.markSeen(cl.Fingerprint)
		return
	}

	compressed, err := r.writer.Archive(ctx, cl, group, dist)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return
	}
	rep.Compressed++
	rep.MembersArchived += len(group)
	rep.TokensBefore += dist.TokensBefore
	rep.TokensAfter += dist.TokensAfter
	rep.Ratios = append(rep.Ratios, dist.Ratio())
	r.markSeen(cl.Fingerprint)

	atom, created, err := r.enricher.Enrich(ctx, compressed, cl, dist)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return
	}
	switch {
	case atom != nil && created:
		rep.AtomsCreated++
	case atom != nil:
		rep.AtomsDeduped++
	}
}

func (r *Runner) alreadySeen(fp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[fp]
}

func (r *Runner) markSeen(fp string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[fp] = true
}
