package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// handleGetConfig returns the current configuration without TLS paths.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Redacted())
}

// handleSetLogLevel changes the global log level until restart.
func (s *Server) handleSetLogLevel(c *gin.Context) {
	var body struct {
		Level string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	level, err := zerolog.ParseLevel(body.Level)
	if err != nil || level == zerolog.NoLevel {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log level", "level": body.Level})
		return
	}

	previous := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(level)
	log.Info().Stringer("from", previous).Stringer("to", level).Msg("API: log level changed")

	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"level":  level.String(),
	})
}
