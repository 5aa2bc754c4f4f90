// internal/web/alerting_handlers.go - Alert channel and escalation policy config
package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil/internal/database"
)

func (s *Server) getChannels(c *gin.Context) {
	channels, err := s.store.GetChannels(c.Request.Context(), c.Query("team_id"))
	if err != nil {
		logrus.WithError(err).Error("Failed to get channels")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get channels"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  channels,
		"count": len(channels),
	})
}

func (s *Server) saveChannel(c *gin.Context) {
	var req database.AlertChannel
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch req.Type {
	case database.ChannelEmail, database.ChannelWebhook, database.ChannelSlack,
		database.ChannelWhatsApp, database.ChannelTelegram:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown channel type"})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := s.store.SaveChannel(c.Request.Context(), &req); err != nil {
		logrus.WithError(err).Error("Failed to save channel")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save channel"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": req})
}

func (s *Server) getPolicy(c *gin.Context) {
	policy, err := s.store.GetPolicy(c.Request.Context(), c.Param("team"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No escalation policy for team"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get policy"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": policy})
}

func (s *Server) savePolicy(c *gin.Context) {
	var req database.EscalationPolicy
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.TeamID = c.Param("team")
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	for _, step := range req.Steps {
		if step.DelaySeconds < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Step delay must be non-negative"})
			return
		}
		if len(step.ChannelIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Step must target at least one channel"})
			return
		}
	}

	if err := s.store.SavePolicy(c.Request.Context(), &req); err != nil {
		logrus.WithError(err).Error("Failed to save policy")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save policy"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": req})
}
