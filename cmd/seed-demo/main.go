package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/app"
	"github.com/radprogressor-server/internal/config"
	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/logging"
	"github.com/radprogressor-server/internal/seed"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	if err := run(context.Background(), cfg, logger, time.Now()); err != nil {
		logger.WithError(err).Fatal("Seeding failed")
	}
}

// run seeds the demo patient and closes the store before returning.
func run(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, now time.Time) error {
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open study store: %w", err)
	}
	defer application.Close()

	fixture, err := seed.Demo()
	if err != nil {
		return fmt.Errorf("failed to load demo fixture: %w", err)
	}
	records, err := fixture.Records(now, application.Weights)
	if err != nil {
		return fmt.Errorf("failed to build demo studies: %w", err)
	}
	if err := seed.Write(ctx, application.Repo, records, logger); err != nil {
		return fmt.Errorf("failed to seed demo studies: %w", err)
	}

	logger.WithField("patient_id", fixture.PatientID).Infof("Seeded demo data with %d studies", len(records))
	return nil
}
