// Axon daemon — runs the self-healing engine, the real-time learning
// queue, and the operator HTTP API over one embedded store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/api"
	"github.com/heliosarchitect/axon/pkg/atoms"
	"github.com/heliosarchitect/axon/pkg/compress"
	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/cortex"
	"github.com/heliosarchitect/axon/pkg/escalation"
	"github.com/heliosarchitect/axon/pkg/healing"
	"github.com/heliosarchitect/axon/pkg/incident"
	"github.com/heliosarchitect/axon/pkg/masking"
	"github.com/heliosarchitect/axon/pkg/metrics"
	"github.com/heliosarchitect/axon/pkg/pattern"
	"github.com/heliosarchitect/axon/pkg/probe"
	"github.com/heliosarchitect/axon/pkg/rtl"
	"github.com/heliosarchitect/axon/pkg/runbook"
	"github.com/heliosarchitect/axon/pkg/sessionstate"
	"github.com/heliosarchitect/axon/pkg/store"
	"github.com/heliosarchitect/axon/pkg/synapse"
	"github.com/heliosarchitect/axon/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Fallback poll intervals per probe kind; axon.yaml's probe_intervals_ms
// section overrides them per source ID.
const (
	processPollEvery   = 15 * time.Second
	diskPollEvery      = time.Minute
	memoryPollEvery    = 30 * time.Second
	gatewayPollEvery   = 15 * time.Second
	integrityPollEvery = 5 * time.Minute
	heartbeatPollEvery = time.Minute
)

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting axond", "version", version.Full(), "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the store (migrations run inside Open)
	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		slog.Error("Failed to open store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Store opened", "path", cfg.Store.Path)

	// 3. Metrics sink (own database file, Prometheus registration)
	sink, err := metrics.NewSink(ctx, cfg.Store.MetricsPath, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("Failed to open metrics sink", "path", cfg.Store.MetricsPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Error("Error closing metrics sink", "error", err)
		}
	}()

	// 4. Message bus, websocket fan-out, and the external channel
	bus := synapse.NewBus(db)
	connManager := synapse.NewConnectionManager(bus, 10*time.Second)
	bus.SetBroadcaster(connManager)

	var external synapse.ExternalChannel
	if cfg.Synapse.ExternalWebhookURL != "" {
		external = synapse.NewWebhookChannel(
			cfg.Synapse.ExternalWebhookURL,
			os.Getenv(cfg.Synapse.ExternalTokenEnv),
			cfg.Synapse.DeliveryTimeout)
		slog.Info("External escalation channel configured")
	} else {
		slog.Warn("No external webhook configured, tier-3 escalations stay on the bus")
	}

	// 5. Incident, runbook, and probe plumbing
	incidents := incident.NewManager(db)

	registry := runbook.NewRegistry()
	if err := runbook.RegisterBuiltins(registry, runbook.BuiltinDeps{Store: db}); err != nil {
		slog.Error("Failed to register runbooks", "error", err)
		os.Exit(1)
	}
	meta := runbook.NewMetaStore(db)
	docs := runbook.NewDocService(os.Getenv("GITHUB_TOKEN"), time.Minute)

	probes := probe.NewRegistry()
	if err := registerProbes(probes, cfg.Healing, db); err != nil {
		slog.Error("Failed to register probes", "error", err)
		os.Exit(1)
	}
	slog.Info("Probes registered", "count", probes.Len())

	// 6. Self-healing engine
	classifier := anomaly.NewClassifier(anomaly.DefaultRules())
	executor := runbook.NewExecutor(classifier, probes, incidents, meta, cfg.Healing, sink)
	escRouter := escalation.NewRouter(bus, external, incidents, sink)

	engine := healing.New(healing.Deps{
		Config:     cfg.Healing,
		Probes:     probes,
		Classifier: classifier,
		Incidents:  incidents,
		Runbooks:   registry,
		Meta:       meta,
		Executor:   executor,
		Router:     escRouter,
		Sink:       sink,
	})
	engine.Start(ctx)
	defer engine.Stop()

	// 7. Real-time learning pipeline and its queue
	atomStore := atoms.NewStore(db)
	failures := rtl.NewFailureStore(db)
	pipeline := rtl.NewPipeline(rtl.PipelineDeps{
		Config:     cfg.RTL,
		Classifier: rtl.NewClassifier(rtl.DefaultClassRules()),
		Failures:   failures,
		Patcher:    rtl.NewSOPPatcher(cfg.RTL, bus, nil),
		Regress:    rtl.NewRegressionGenerator(filepath.Join(cfg.RTL.SOPDirectory, "regressions"), db),
		Atoms:      atomStore,
		Bus:        bus,
		Scrubber:   masking.NewScrubber(nil),
		Sink:       sink,
	})
	queue := rtl.NewQueue(cfg.RTL.QueueCapacity, pipeline.Handle, sink)
	queue.Start(ctx)
	defer queue.Stop()

	// 8. Model router and compression
	modelRouter := cortex.NewRouter(cfg.Cortex, cortex.NewAnthropicClient(), sink)
	compressor := compress.NewRunner(compress.Deps{
		Config:    cfg.Compression,
		Memories:  compress.NewMemoryStore(db),
		Distiller: compress.NewDistiller(modelRouter, cfg.Compression),
		Writer:    compress.NewWriter(db),
		Enricher:  compress.NewEnricher(atomStore, cfg.Compression),
		Reporter:  compress.NewReporter(cfg.Compression.ReportsDir, db),
		Sink:      sink,
	})

	// 9. Cross-domain pattern matcher
	matcher, err := buildMatcher(cfg, db, sink)
	if err != nil {
		slog.Error("Failed to build pattern matcher", "error", err)
		os.Exit(1)
	}

	// 10. Session preserver
	sessions := sessionstate.NewPreserver(db, cfg.Session)

	// 11. Background bus pruning
	go pruneBus(ctx, bus, cfg.Synapse.LogRetention)

	// 12. HTTP API (blocks until signal, then drains)
	srv := api.NewServer(api.Deps{
		Config:     cfg,
		Store:      db,
		Incidents:  incidents,
		Registry:   registry,
		Meta:       meta,
		Docs:       docs,
		Failures:   failures,
		Queue:      queue,
		Compressor: compressor,
		Patterns:   matcher,
		Sessions:   sessions,
		Bus:        bus,
		WS:         connManager,
		Healing:    engine,
	})

	slog.Info("axond started", "listen_addr", cfg.API.ListenAddr)
	if err := srv.Start(ctx); err != nil {
		slog.Error("API server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

// registerProbes wires the built-in probe set from config. Probes with
// no configured target are simply not scheduled.
func registerProbes(probes *probe.Registry, cfg *config.HealingConfig, db *store.Store) error {
	for _, name := range cfg.MonitoredProcesses {
		p, err := probe.NewProcessProbe(name, cfg.ProbeInterval("process:"+name, processPollEvery))
		if err != nil {
			return err
		}
		if err := probes.Register(p); err != nil {
			return err
		}
	}

	if cfg.DiskPath != "" {
		disk := probe.NewDiskProbe(cfg.DiskPath, cfg.ProbeInterval("disk", diskPollEvery))
		if err := probes.Register(disk); err != nil {
			return err
		}
	}

	mem := probe.NewMemoryProbe(cfg.ProbeInterval("memory", memoryPollEvery))
	if err := probes.Register(mem); err != nil {
		return err
	}

	if cfg.GatewayURL != "" {
		gw := probe.NewGatewayProbe(cfg.GatewayURL, cfg.ProbeInterval("gateway", gatewayPollEvery))
		if err := probes.Register(gw); err != nil {
			return err
		}
	}

	integ := probe.NewIntegrityProbe(db, cfg.ProbeInterval("store", integrityPollEvery))
	if err := probes.Register(integ); err != nil {
		return err
	}

	if cfg.SessionHeartbeatPath != "" {
		hb := probe.NewSessionFileProbe(cfg.SessionHeartbeatPath,
			cfg.ProbeInterval("session-file", heartbeatPollEvery))
		if err := probes.Register(hb); err != nil {
			return err
		}
	}
	return nil
}

// buildMatcher assembles the pattern matcher with one extractor per
// configured external database, plus the always-on meta extractor.
func buildMatcher(cfg *config.Config, db *store.Store, sink *metrics.Sink) (*pattern.Matcher, error) {
	extractors := []pattern.Extractor{pattern.NewMetaExtractor(db, cfg.Pattern.MaxRowsPerSource)}

	add := func(build func(string, string, int) (pattern.Extractor, error), path string) error {
		if path == "" {
			return nil
		}
		ex, err := build(path, cfg.Store.Path, cfg.Pattern.MaxRowsPerSource)
		if err != nil {
			return err
		}
		extractors = append(extractors, ex)
		return nil
	}
	if err := add(pattern.NewTradingExtractor, cfg.Pattern.TradingDBPath); err != nil {
		return nil, err
	}
	if err := add(pattern.NewRadioExtractor, cfg.Pattern.RadioDBPath); err != nil {
		return nil, err
	}
	if err := add(pattern.NewFleetExtractor, cfg.Pattern.FleetDBPath); err != nil {
		return nil, err
	}

	return pattern.NewMatcher(cfg.Pattern, pattern.NewFingerprintStore(db), sink, extractors...), nil
}

// pruneBus removes aged synapse rows on an hourly cadence.
func pruneBus(ctx context.Context, bus *synapse.Bus, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := bus.Prune(ctx, retention)
			if err != nil {
				slog.Warn("Bus prune failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Bus pruned", "removed", n)
			}
		}
	}
}
