package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/radprogressor-server/internal/api"
	"github.com/radprogressor-server/internal/app"
	"github.com/radprogressor-server/internal/config"
	"github.com/radprogressor-server/internal/logging"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewPipeline(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	defer application.Close()

	logger.WithField("environment", cfg.Environment).Infof("Starting RadProgressor on %s:%d", cfg.Server.Host, cfg.Server.Port)

	server := api.NewServer(configManager, application.Analysis, application.Timelines, logger)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
