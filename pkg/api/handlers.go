package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heliosarchitect/axon/pkg/rtl"
	"github.com/heliosarchitect/axon/pkg/synapse"
	"github.com/heliosarchitect/axon/pkg/version"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	status := http.StatusOK
	dbState := "ok"
	if err := s.deps.Store.DB().PingContext(ctx); err != nil {
		status = http.StatusServiceUnavailable
		dbState = err.Error()
	}

	body := gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbState,
	}
	if s.deps.Queue != nil {
		body["rtl_queue_depth"] = s.deps.Queue.Len()
	}
	if s.deps.WS != nil {
		body["ws_connections"] = s.deps.WS.ActiveConnections()
	}
	if s.deps.Healing != nil {
		body["probes"] = s.deps.Healing.Health()
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}

func (s *Server) listIncidents(c *gin.Context) {
	ctx := c.Request.Context()
	if hours, err := strconv.Atoi(c.Query("recent_hours")); err == nil && hours > 0 {
		incidents, err := s.deps.Incidents.ListRecent(ctx, time.Duration(hours)*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"incidents": incidents})
		return
	}
	incidents, err := s.deps.Incidents.ListOpen(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents})
}

func (s *Server) getIncident(c *gin.Context) {
	inc, err := s.deps.Incidents.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

type dismissRequest struct {
	Reason   string `json:"reason" binding:"required"`
	WindowMS int64  `json:"window_ms"`
}

func (s *Server) dismissIncident(c *gin.Context) {
	var req dismissRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	window := time.Duration(req.WindowMS) * time.Millisecond
	if window <= 0 {
		window = s.deps.Config.Healing.IncidentDismissWindow()
	}
	inc, err := s.deps.Incidents.Dismiss(c.Request.Context(), c.Param("id"), req.Reason, window)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) listRunbooks(c *gin.Context) {
	ctx := c.Request.Context()
	out := make([]gin.H, 0)
	for _, def := range s.deps.Registry.All() {
		meta, err := s.deps.Meta.Get(ctx, def.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, gin.H{
			"id":          def.ID,
			"label":       def.Label,
			"applies_to":  def.AppliesTo,
			"whitelisted": s.deps.Config.Healing.IsWhitelisted(def.ID),
			"meta":        meta,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runbooks": out})
}

func (s *Server) getRunbookDoc(c *gin.Context) {
	id := c.Param("id")
	def, ok := s.deps.Registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown runbook"})
		return
	}
	if s.deps.Docs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "doc service disabled"})
		return
	}
	content, err := s.deps.Docs.Resolve(c.Request.Context(), def)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "source": def.DocURL, "content": content})
}

func (s *Server) approveRunbook(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.deps.Registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown runbook"})
		return
	}
	graduated, err := s.deps.Meta.MaybeGraduate(c.Request.Context(), id,
		s.deps.Config.Healing.DryRunGraduationCount, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !graduated {
		c.JSON(http.StatusConflict, gin.H{"error": "dry-run graduation count not met"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "mode": "auto_execute"})
}

func (s *Server) demoteRunbook(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.deps.Registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown runbook"})
		return
	}
	if err := s.deps.Meta.Demote(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "mode": "dry_run"})
}

func (s *Server) listFailures(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	failures, err := s.deps.Failures.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}

func (s *Server) getFailure(c *gin.Context) {
	ctx := c.Request.Context()
	f, err := s.deps.Failures.Get(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "failure not found"})
		return
	}
	props, err := s.deps.Failures.PropagationsOf(ctx, f.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failure": f, "propagations": props})
}

func (s *Server) postDetection(c *gin.Context) {
	var payload rtl.DetectionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.deps.Queue.Enqueue(payload) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detection queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (s *Server) listMessages(c *gin.Context) {
	since, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	msgs, err := s.deps.Bus.Since(c.Request.Context(), since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type postMessageRequest struct {
	Subject  string `json:"subject" binding:"required"`
	Body     string `json:"body"`
	Priority string `json:"priority" binding:"required"`
	ThreadID string `json:"thread_id"`
}

func (s *Server) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := s.deps.Bus.Send(c.Request.Context(),
		req.Subject, req.Body, synapse.Priority(req.Priority), req.ThreadID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) runCompression(c *gin.Context) {
	rep, err := s.deps.Compressor.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) runPatterns(c *gin.Context) {
	res, err := s.deps.Patterns.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) restoreSession(c *gin.Context) {
	var topics []string
	if raw := c.Query("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	pre, err := s.deps.Sessions.Restore(c.Request.Context(), topics)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"preamble": pre.Text,
		"pins":     pre.Pins,
		"sessions": len(pre.Sessions),
	})
}
