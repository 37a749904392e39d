package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/critterbox/battlewire/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "battlewire",
		"version": s.version,
	})
}

// handleInfo returns the node identity and host information.
func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        s.node.Name(),
		"role":        s.node.Role().String(),
		"version":     s.version,
		"fingerprint": s.node.Fingerprint(),
		"system":      util.GetSystemInfo(),
		"process":     util.GetProcessStats(s.started),
	})
}

// handleHealth returns the last health report. Critical reports are
// served with 503 so load balancers take the node out of rotation.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "health checks are disabled"})
		return
	}

	report := s.health.Report(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
