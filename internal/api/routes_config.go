package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
)

// handleGetConfig returns the current configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	ad := s.cfg.GetApplicationData()
	if ad.API.Token != "" {
		ad.API.Token = "********"
	}
	c.JSON(http.StatusOK, gin.H{
		"server_data":      s.cfg.GetServerData(),
		"application_data": ad,
	})
}

// handleSetServerField updates one server_data key. The change is
// validated, persisted and applies on the next start.
func (s *Server) handleSetServerField(c *gin.Context) {
	var body struct {
		Key   string      `json:"key" binding:"required"`
		Value interface{} `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetServerData()
	if err := s.cfg.UpdateServerField(body.Key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetServerData(previous)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid configuration",
			"errors": result.Errors,
		})
		return
	}

	if !s.saveAndAnnounce(c, "server_data", body.Key, body.Value) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "updated",
		"key":              body.Key,
		"restart_required": true,
	})
}

func (s *Server) handleGetFilters(c *gin.Context) {
	filters := s.game.Filters().All()
	if filters == nil {
		filters = []filter.Filter{}
	}
	c.JSON(http.StatusOK, gin.H{"filters": filters})
}

// handlePutFilters replaces the whole filter list and writes it to disk.
func (s *Server) handlePutFilters(c *gin.Context) {
	var body struct {
		Filters []filter.Filter `json:"filters"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list := s.game.Filters()
	if err := list.Replace(body.Filters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := list.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save filters")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save filters"})
		return
	}

	s.announce(c, "filters", "", len(body.Filters))

	c.JSON(http.StatusOK, gin.H{
		"status":  "updated",
		"filters": list.All(),
	})
}

// handleSetPolicy replaces the download policy live and persists it.
func (s *Server) handleSetPolicy(c *gin.Context) {
	var policy download.Policy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if policy.Maps < 0 || policy.Maps > 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maps level must be 0, 1 or 2"})
		return
	}

	if err := s.game.SetPolicy(c.Request.Context(), policy); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	sd := s.cfg.GetServerData()
	sd.Downloads = policy
	s.cfg.SetServerData(sd)
	if !s.saveAndAnnounce(c, "server_data", "downloads", policy) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"policy": policy,
	})
}

func (s *Server) saveAndAnnounce(c *gin.Context, section, key string, value interface{}) bool {
	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return false
	}
	s.announce(c, section, key, value)
	return true
}

func (s *Server) announce(c *gin.Context, section, key string, value interface{}) {
	operator, _ := c.Get("operator")
	log.Info().
		Str("section", section).
		Str("key", key).
		Interface("operator", operator).
		Msg("API: configuration changed")

	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: section,
			Key:     key,
			Value:   value,
		},
	})
}
