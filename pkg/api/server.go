// Package api is the operator HTTP surface: incident and runbook
// control, failure inspection, manual compression and pattern runs,
// bus access over REST and websocket, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heliosarchitect/axon/pkg/compress"
	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/healing"
	"github.com/heliosarchitect/axon/pkg/incident"
	"github.com/heliosarchitect/axon/pkg/pattern"
	"github.com/heliosarchitect/axon/pkg/rtl"
	"github.com/heliosarchitect/axon/pkg/runbook"
	"github.com/heliosarchitect/axon/pkg/sessionstate"
	"github.com/heliosarchitect/axon/pkg/store"
	"github.com/heliosarchitect/axon/pkg/synapse"
)

// Deps collects everything the API exposes.
type Deps struct {
	Config     *config.Config
	Store      *store.Store
	Incidents  *incident.Manager
	Registry   *runbook.Registry
	Meta       *runbook.MetaStore
	Docs       *runbook.DocService
	Failures   *rtl.FailureStore
	Queue      *rtl.Queue
	Compressor *compress.Runner
	Patterns   *pattern.Matcher
	Sessions   *sessionstate.Preserver
	Bus        *synapse.Bus
	WS         *synapse.ConnectionManager
	Healing    *healing.Engine
}

// Server is the operator HTTP server.
type Server struct {
	deps   Deps
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the server; Start actually listens.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: slog.Default().With("component", "api"),
	}
	s.http = &http.Server{
		Addr:              deps.Config.API.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes assembles the gin engine. Exposed separately so tests can
// drive it with httptest without binding a port.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(s.logger), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleWS)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		v1.GET("/incidents", s.listIncidents)
		v1.GET("/incidents/:id", s.getIncident)
		v1.POST("/incidents/:id/dismiss", s.dismissIncident)

		v1.GET("/runbooks", s.listRunbooks)
		v1.GET("/runbooks/:id/doc", s.getRunbookDoc)
		v1.POST("/runbooks/:id/approve", s.approveRunbook)
		v1.POST("/runbooks/:id/demote", s.demoteRunbook)

		v1.GET("/failures", s.listFailures)
		v1.GET("/failures/:id", s.getFailure)
		v1.POST("/detections", s.postDetection)

		v1.GET("/messages", s.listMessages)
		v1.POST("/messages", s.postMessage)

		v1.POST("/compression/run", s.runCompression)
		v1.POST("/patterns/run", s.runPatterns)
		v1.GET("/sessions/restore", s.restoreSession)
	}
	return r
}

// Start listens until the context is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
