// Package app builds the service graph from configuration. Both binaries and
// the demo seeder start here.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/archive"
	"github.com/radprogressor-server/internal/cache"
	"github.com/radprogressor-server/internal/database"
	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/narrative"
	"github.com/radprogressor-server/internal/progression"
	"github.com/radprogressor-server/internal/report"
	"github.com/radprogressor-server/internal/repository"
	"github.com/radprogressor-server/internal/service"
	"github.com/radprogressor-server/internal/vision"
	"github.com/radprogressor-server/pkg/external"
)

// App holds the wired services and the resources they own.
type App struct {
	Config    *domain.Config
	Logger    *logrus.Logger
	Repo      domain.StudyRepository
	Reports   domain.ReportClassifier
	Weights   progression.Weights
	Analysis  *service.AnalysisService
	Timelines *service.TimelineService

	closers []func() error
}

// New opens the store and builds every collaborator selected by cfg.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Reports: report.NewLexicalClassifier(),
		Weights: progression.Weights{Alpha: cfg.Scoring.Alpha, Beta: cfg.Scoring.Beta},
	}
	if err := a.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring weights: %w", err)
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Repo = repo
	a.Timelines = service.NewTimelineService(repo, logger)

	// Store-only commands stop here.
	return a, nil
}

// NewPipeline is New plus the analysis pipeline collaborators.
func NewPipeline(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a, err := New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	visionClassifier, err := newVisionClassifier(cfg.Vision, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	narrator, err := a.newNarrator(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	imageArchive, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create image archive: %w", err)
	}

	a.Analysis = service.NewAnalysisService(a.Repo, visionClassifier, a.Reports, narrator, logger,
		service.WithWeights(a.Weights),
		service.WithArchive(imageArchive),
	)

	logger.WithFields(logrus.Fields{
		"database":  cfg.Database.Driver,
		"vision":    cfg.Vision.Backend,
		"narrative": cfg.Narrative.Backend,
		"cache":     cfg.Cache.Driver,
		"archive":   cfg.Archive.Driver,
	}).Info("Analysis pipeline ready")

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) openRepository(ctx context.Context) (domain.StudyRepository, error) {
	cfg := a.Config.Database

	switch cfg.Driver {
	case "", "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, a.Logger)
		if err != nil {
			return nil, err
		}
		repo := repository.NewSQLiteStudyRepository(db, a.Logger)
		a.onClose(repo.Close)

		if cfg.AutoMigrate {
			runner, err := database.NewSQLiteMigrationRunner(db, a.Logger)
			if err != nil {
				return nil, err
			}
			if err := migrateUp(ctx, runner); err != nil {
				return nil, err
			}
		}
		return repo, nil

	case "postgres":
		dbCfg := database.ConfigFromDomain(cfg)
		if cfg.AutoMigrate {
			runner, err := database.NewPostgresMigrationRunner(dbCfg.URL(), a.Logger)
			if err != nil {
				return nil, err
			}
			if err := migrateUp(ctx, runner); err != nil {
				return nil, err
			}
		}

		db, err := database.NewConnection(ctx, dbCfg, a.Logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error {
			db.Close()
			return nil
		})
		return repository.NewPostgresStudyRepository(db.Pool, a.Logger), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func migrateUp(ctx context.Context, runner *database.MigrationRunner) error {
	defer runner.Close()
	if err := runner.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func newVisionClassifier(cfg domain.VisionConfig, logger *logrus.Logger) (domain.VisionClassifier, error) {
	switch cfg.Backend {
	case "", "intensity":
		return vision.NewIntensityClassifier(), nil
	case "remote":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("vision base_url is required for the remote backend")
		}
		return external.NewInferenceClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.Backend)
	}
}

// newNarrator builds generator, then cache. The service adds the fallback.
func (a *App) newNarrator(ctx context.Context) (domain.Narrator, error) {
	var narrator domain.Narrator

	switch a.Config.Narrative.Backend {
	case "", "template":
		// Deterministic text needs no cache.
		return narrative.NewTemplateNarrator(), nil
	case "gemini":
		gemini, err := external.NewGeminiNarrator(ctx, a.Config.Narrative, a.Logger)
		if err != nil {
			return nil, err
		}
		a.onClose(gemini.Close)
		narrator = gemini
	default:
		return nil, fmt.Errorf("unknown narrative backend %q", a.Config.Narrative.Backend)
	}

	textCache, err := a.newTextCache()
	if err != nil {
		return nil, err
	}
	if textCache == nil {
		return narrator, nil
	}
	return narrative.NewCachedNarrator(narrator, textCache, a.Logger), nil
}

func (a *App) newTextCache() (domain.TextCache, error) {
	cfg := a.Config.Cache

	switch cfg.Driver {
	case "none":
		return nil, nil
	case "", "memory":
		return cache.NewMemoryCache(cfg.MaxEntries, cfg.DefaultTTL), nil
	case "redis", "tiered":
		client, err := external.NewCacheClient(cfg)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		if cfg.Driver == "redis" {
			return client, nil
		}
		return cache.NewTiered(cache.NewMemoryCache(cfg.MaxEntries, cfg.DefaultTTL), client, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
