// internal/web/server.go
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/monitoring"
)

type Server struct {
	config  *config.Config
	store   database.Store
	engine  *monitoring.Engine
	metrics *metrics.Collector
	router  *gin.Engine
	server  *http.Server

	wsMu      sync.Mutex
	wsClients map[*WSClient]bool
}

func NewServer(cfg *config.Config, store database.Store, engine *monitoring.Engine, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:    cfg,
		store:     store,
		engine:    engine,
		metrics:   metricsCollector,
		router:    router,
		wsClients: make(map[*WSClient]bool),
	}

	server.setupRoutes()
	return server
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go s.forwardEvents(ctx)
	go s.updateMetricsRoutine(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

// Handler exposes the routing tree, used by tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/monitors", s.getMonitors)
		api.GET("/monitors/:id", s.getMonitor)
		api.POST("/monitors", s.createMonitor)
		api.PUT("/monitors/:id", s.updateMonitor)
		api.DELETE("/monitors/:id", s.deleteMonitor)
		api.POST("/monitors/:id/run", s.runMonitor)
		api.GET("/monitors/:id/history", s.getMonitorHistory)
		api.GET("/monitors/:id/ssl", s.getMonitorSSL)

		api.POST("/webhooks/:id", s.pushWebhookStatus)

		api.GET("/incidents", s.getIncidents)
		api.GET("/incidents/:id", s.getIncident)
		api.POST("/incidents/:id/ack", s.acknowledgeIncident)
		api.POST("/incidents/:id/resolve", s.resolveIncident)
		api.POST("/incidents/:id/updates", s.addIncidentUpdate)

		api.GET("/channels", s.getChannels)
		api.POST("/channels", s.saveChannel)
		api.GET("/policies/:team", s.getPolicy)
		api.PUT("/policies/:team", s.savePolicy)

		api.GET("/health", s.healthCheck)
	}

	// WebSocket endpoint
	s.router.GET("/ws", s.handleWebSocket)

	// Prometheus metrics
	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// forwardEvents pushes engine events to all connected websocket clients.
func (s *Server) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.engine.Events():
			if !ok {
				return
			}
			s.broadcast(WSMessage{Type: event.Type, Data: event})
		}
	}
}

func (s *Server) updateMetricsRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Error("Failed to update system metrics")
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
