package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// handleStatus returns the node summary.
func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.node.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleRegistry returns the message type table in NetID order.
func (s *Server) handleRegistry(c *gin.Context) {
	types := s.node.Registry()
	c.JSON(http.StatusOK, gin.H{
		"types":       types,
		"total":       len(types),
		"fingerprint": strconv.FormatUint(s.node.Fingerprint(), 16),
	})
}

// handleProviders returns every registered battle provider.
func (s *Server) handleProviders(c *gin.Context) {
	providers := s.node.Providers()
	c.JSON(http.StatusOK, gin.H{
		"providers": providers,
		"total":     len(providers),
	})
}

// handlePeers returns the connected peers of a server node.
func (s *Server) handlePeers(c *gin.Context) {
	peers := s.node.Peers()
	c.JSON(http.StatusOK, gin.H{
		"peers": peers,
		"total": len(peers),
	})
}

// handleBattles returns the battles the arena tracks.
func (s *Server) handleBattles(c *gin.Context) {
	battles, err := s.node.Battles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"battles": battles,
		"total":   len(battles),
	})
}

// handleBattle returns one battle.
func (s *Server) handleBattle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid battle id"})
		return
	}

	snap, found, err := s.node.Battle(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "battle not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleView returns what the local player knows.
func (s *Server) handleView(c *gin.Context) {
	v, err := s.node.View(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"player":  s.node.LocalPlayer(),
		"view":    v,
		"pending": v.Pending,
	})
}

// handleJournal returns the most recent routing decisions.
func (s *Server) handleJournal(c *gin.Context) {
	if !s.requireJournal(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	entries, err := s.journal.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

// handleJournalBattles returns recorded battle history.
func (s *Server) handleJournalBattles(c *gin.Context) {
	if !s.requireJournal(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	battles, err := s.journal.Battles(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"battles": battles,
		"total":   len(battles),
	})
}

// handleJournalStats returns how often each routing action was taken.
func (s *Server) handleJournalStats(c *gin.Context) {
	if !s.requireJournal(c) {
		return
	}
	counts, err := s.journal.ActionCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": counts})
}

func (s *Server) requireJournal(c *gin.Context) bool {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal is disabled"})
		return false
	}
	return true
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultJournalLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return min(n, maxJournalLimit), true
}
