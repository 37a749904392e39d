package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/battle"
)

// handleChallenge challenges an opponent as the local player.
func (s *Server) handleChallenge(c *gin.Context) {
	var body struct {
		Opponent uint32 `json:"opponent" binding:"required"`
		Format   string `json:"format"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.node.Challenge(c.Request.Context(), battle.ProviderID(body.Opponent), body.Format)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("battle", id.String()).Uint32("opponent", body.Opponent).Msg("API: challenge sent")
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "challenged",
		"battle_id": id,
	})
}

// handleAnswer accepts or declines a pending challenge.
func (s *Server) handleAnswer(c *gin.Context) {
	var body struct {
		BattleID string `json:"battle_id" binding:"required"`
		Accept   bool   `json:"accept"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(body.BattleID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid battle id"})
		return
	}

	if err := s.node.Answer(c.Request.Context(), id, body.Accept, body.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "answered",
		"battle_id": id,
		"accepted":  body.Accept,
	})
}

// handleAct submits the local player's action for the current turn.
func (s *Server) handleAct(c *gin.Context) {
	var body struct {
		Action string `json:"action" binding:"required"`
		Slot   uint8  `json:"slot"`
		Target uint8  `json:"target"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action, err := battle.ParseAction(body.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.node.Act(c.Request.Context(), action, body.Slot, body.Target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "submitted", "action": action.String()})
}

// handleForfeit concedes the local player's battle.
func (s *Server) handleForfeit(c *gin.Context) {
	if err := s.node.Forfeit(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "forfeited"})
}

// handleProviderPing pings a provider, or the manager, from the local
// player.
func (s *Server) handleProviderPing(c *gin.Context) {
	var body struct {
		Recipient uint32 `json:"recipient"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nonce, err := s.node.Ping(c.Request.Context(), battle.ProviderID(body.Recipient))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "nonce": nonce})
}

// handlePair asks the arena to start a battle between two providers.
func (s *Server) handlePair(c *gin.Context) {
	var body struct {
		A      uint32 `json:"a" binding:"required"`
		B      uint32 `json:"b" binding:"required"`
		Format string `json:"format"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.node.Pair(c.Request.Context(), battle.ProviderID(body.A), battle.ProviderID(body.B), body.Format)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("battle", id.String()).Uint32("a", body.A).Uint32("b", body.B).Msg("API: providers paired")
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "paired",
		"battle_id": id,
	})
}

// handleKick disconnects a peer.
func (s *Server) handleKick(c *gin.Context) {
	idx, err := strconv.ParseUint(c.Param("peer"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer index"})
		return
	}

	if err := s.node.Kick(uint8(idx)); err != nil {
		if isConflict(err) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "peer": idx})
		return
	}

	log.Info().Uint64("peer", idx).Msg("API: peer kicked")
	c.JSON(http.StatusOK, gin.H{"status": "kicked", "peer": idx})
}
