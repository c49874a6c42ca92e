package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "zily",
		"version": util.AppVersion,
	})
}

// handleGetVersion returns the daemon and protocol versions.
func (s *Server) handleGetVersion(c *gin.Context) {
	side := s.cfg.GetSide()
	c.JSON(http.StatusOK, gin.H{
		"version":          util.AppVersion,
		"protocol":         side.Protocol,
		"protocol_version": protocol.APIVersion.String(),
		"name":             side.Name,
	})
}

// handleGetHost returns host details and current load.
func (s *Server) handleGetHost(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system":   util.GetSystemInfo(),
		"usage":    util.GetResourceUsage(),
		"sessions": s.registry.Count(),
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
	})
}
