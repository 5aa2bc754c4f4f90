package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/monitoring"
	"vigil/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Vigil Uptime Monitor v1.0.0\nBuild: %s\n", getBuildInfo())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Setup logging
	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"workers":     cfg.Monitoring.Workers,
	}).Info("Starting Vigil uptime monitor")

	// Initialize database
	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize metrics
	metricsCollector := metrics.NewCollector(store)

	// Initialize monitoring engine
	engine := monitoring.NewEngine(cfg, store, metricsCollector)

	// Initialize web server
	webServer := web.NewServer(cfg, store, engine, metricsCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}

	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	// Graceful shutdown: stop accepting requests and drain in-flight checks
	// before tearing down the background routines.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Web server shutdown failed")
	}

	engine.Stop(cfg.Server.ShutdownGrace)
	cancel()

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

func getBuildInfo() string {
	return "dev-build" // Replaced by the build system
}
