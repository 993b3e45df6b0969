package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// handleWS upgrades the connection and hands it to the synapse
// connection manager, which owns it until close.
func (s *Server) handleWS(c *gin.Context) {
	if s.deps.WS == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket disabled"})
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.deps.Config.API.AllowedWSOrigins,
	})
	if err != nil {
		s.logger.Warn("Websocket upgrade rejected", "error", err)
		return
	}
	s.deps.WS.HandleConnection(c.Request.Context(), conn)
}
