package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/protocol"
)

const defaultKickReason = "Kicked by operator"

// handleKick drops the session in a slot. The body is optional.
func (s *Server) handleKick(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = defaultKickReason
	}

	if err := s.game.Kick(c.Request.Context(), slot, reason); err != nil {
		respondSessionError(c, slot, err)
		return
	}

	operator, _ := c.Get("operator")
	log.Info().
		Int("slot", slot).
		Str("reason", reason).
		Interface("operator", operator).
		Msg("API: session kicked")

	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"slot":   slot,
		"reason": reason,
	})
}

// handleStuff sends a console command to a client.
func (s *Server) handleStuff(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}

	var body struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	if len(body.Command) >= protocol.MaxStringChars || strings.ContainsAny(body.Command, "\n") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command must be a single line"})
		return
	}

	if err := s.game.StuffText(c.Request.Context(), slot, body.Command); err != nil {
		respondSessionError(c, slot, err)
		return
	}

	operator, _ := c.Get("operator")
	log.Info().
		Int("slot", slot).
		Str("command", body.Command).
		Interface("operator", operator).
		Msg("API: command stuffed")

	c.JSON(http.StatusOK, gin.H{
		"status":  "sent",
		"slot":    slot,
		"command": body.Command,
	})
}

func (s *Server) handleAckAlert(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	if err := s.audit.AcknowledgeAlert(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "id": id})
}
