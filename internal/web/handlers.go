// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil/internal/database"
	"vigil/internal/monitoring"
)

func (s *Server) getMonitors(c *gin.Context) {
	filters := database.MonitorFilters{
		TeamID: c.Query("team_id"),
	}
	if raw := c.Query("active"); raw != "" {
		active := raw == "true"
		filters.Active = &active
	}

	monitors, err := s.store.GetMonitors(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get monitors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get monitors"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  monitors,
		"count": len(monitors),
	})
}

func (s *Server) getMonitor(c *gin.Context) {
	monitor, err := s.store.GetMonitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get monitor"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": monitor})
}

func (s *Server) createMonitor(c *gin.Context) {
	var req database.Monitor
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Monitor name is required"})
		return
	}
	if req.Kind == "" {
		req.Kind = database.MonitorHTTP
	}
	if req.Kind == database.MonitorHTTP && req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Monitor URL is required"})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.Status = database.StatusUnknown
	req.FailureCount = 0
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt

	if err := s.store.SaveMonitor(c.Request.Context(), &req); err != nil {
		logrus.WithError(err).Error("Failed to create monitor")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create monitor"})
		return
	}

	if err := s.engine.MonitorChanged(&req); err != nil {
		logrus.WithError(err).WithField("monitor", req.ID).Error("Failed to schedule monitor")
	}

	c.JSON(http.StatusCreated, gin.H{"data": req})
}

func (s *Server) updateMonitor(c *gin.Context) {
	id := c.Param("id")

	existing, err := s.store.GetMonitor(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get monitor"})
		return
	}

	var req database.Monitor
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.ID = existing.ID
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now()
	// Runtime state stays with the evaluator, not the request body
	req.Status = existing.Status
	req.FailureCount = existing.FailureCount
	req.LastCheck = existing.LastCheck

	if err := s.store.SaveMonitor(c.Request.Context(), &req); err != nil {
		logrus.WithError(err).Error("Failed to update monitor")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update monitor"})
		return
	}

	if err := s.engine.MonitorChanged(&req); err != nil {
		logrus.WithError(err).WithField("monitor", req.ID).Error("Failed to reschedule monitor")
	}

	c.JSON(http.StatusOK, gin.H{"data": req})
}

func (s *Server) deleteMonitor(c *gin.Context) {
	id := c.Param("id")

	if err := s.store.DeleteMonitor(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete monitor"})
		return
	}

	s.engine.MonitorDeleted(id)

	c.JSON(http.StatusOK, gin.H{"message": "Monitor deleted"})
}

func (s *Server) runMonitor(c *gin.Context) {
	if err := s.engine.RunNow(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Check triggered"})
}

func (s *Server) getMonitorHistory(c *gin.Context) {
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			hours = parsed
		}
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	results, err := s.store.GetResultHistory(c.Request.Context(), c.Param("id"), since)
	if err != nil {
		logrus.WithError(err).Error("Failed to get check history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get check history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  results,
		"count": len(results),
	})
}

func (s *Server) getMonitorSSL(c *gin.Context) {
	monitor, err := s.store.GetMonitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get monitor"})
		return
	}

	parsed, err := url.Parse(monitor.URL)
	if err != nil || parsed.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Monitor URL has no inspectable host"})
		return
	}

	info := s.engine.InspectTLS(c.Request.Context(), parsed.Host)
	c.JSON(http.StatusOK, gin.H{"data": info})
}

type webhookPushRequest struct {
	Status   string            `json:"status"`
	Message  string            `json:"message"`
	EventID  string            `json:"event_id"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) pushWebhookStatus(c *gin.Context) {
	var req webhookPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.engine.PushStatus(c.Request.Context(), c.Param("id"), req.Status, req.Message, req.EventID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Monitor not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Status accepted"})
}

func (s *Server) getIncidents(c *gin.Context) {
	filters := database.IncidentFilters{
		MonitorID: c.Query("monitor_id"),
		Status:    database.IncidentStatus(c.Query("status")),
		Limit:     100,
	}
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filters.Limit = parsed
		}
	}

	incidents, err := s.store.GetIncidents(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get incidents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get incidents"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  incidents,
		"count": len(incidents),
	})
}

func (s *Server) getIncident(c *gin.Context) {
	incident, err := s.store.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get incident"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": incident})
}

func (s *Server) acknowledgeIncident(c *gin.Context) {
	var req struct {
		By string `json:"by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.By == "" {
		req.By = "operator"
	}

	incident, err := s.engine.Acknowledge(c.Request.Context(), c.Param("id"), req.By)
	if err != nil {
		s.renderIncidentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": incident})
}

func (s *Server) resolveIncident(c *gin.Context) {
	incident, err := s.engine.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderIncidentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": incident})
}

func (s *Server) addIncidentUpdate(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Update message is required"})
		return
	}

	incident, err := s.engine.AddUpdate(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		s.renderIncidentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": incident})
}

func (s *Server) renderIncidentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
	case monitoring.IsInvalidTransition(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).Error("Incident operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Incident operation failed"})
	}
}
