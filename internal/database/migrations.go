package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/migrations"
)

// MigrationRunner handles database migrations
type MigrationRunner struct {
	migrate  *migrate.Migrate
	source   source.Driver
	sharedDB bool // the database handle belongs to the caller
	log      *logrus.Logger
}

// NewPostgresMigrationRunner applies the embedded postgres migrations to databaseURL
func NewPostgresMigrationRunner(databaseURL string, logger *logrus.Logger) (*MigrationRunner, error) {
	src, err := subSource(migrations.FS, "postgres")
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	return newRunner(m, src, false, logger), nil
}

// NewSQLiteMigrationRunner applies the embedded sqlite migrations to db.
// Closing the runner leaves db open.
func NewSQLiteMigrationRunner(db *sql.DB, logger *logrus.Logger) (*MigrationRunner, error) {
	src, err := subSource(migrations.FS, "sqlite")
	if err != nil {
		return nil, err
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	return newRunner(m, src, true, logger), nil
}

func subSource(fsys fs.FS, dir string) (source.Driver, error) {
	d, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("loading embedded %s migrations: %w", dir, err)
	}
	return d, nil
}

func newRunner(m *migrate.Migrate, src source.Driver, sharedDB bool, logger *logrus.Logger) *MigrationRunner {
	m.Log = &migrateLogger{log: logger}
	return &MigrationRunner{migrate: m, source: src, sharedDB: sharedDB, log: logger}
}

// Up runs all pending migrations
func (mr *MigrationRunner) Up(ctx context.Context) error {
	mr.log.Info("Running database migrations up")

	if err := mr.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.Info("No pending migrations to run")
			return nil
		}
		return fmt.Errorf("running migrations up: %w", err)
	}

	version, dirty, err := mr.migrate.Version()
	if err != nil {
		mr.log.WithError(err).Warn("Could not get migration version after up")
	} else {
		mr.log.WithFields(logrus.Fields{
			"version": version,
			"dirty":   dirty,
		}).Info("Migrations completed successfully")
	}

	return nil
}

// Down rolls back one migration
func (mr *MigrationRunner) Down(ctx context.Context) error {
	mr.log.Info("Rolling back one migration")

	if err := mr.migrate.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.Info("No migrations to roll back")
			return nil
		}
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

// Version returns the current migration version
func (mr *MigrationRunner) Version() (uint, bool, error) {
	return mr.migrate.Version()
}

// Close closes the migration runner
func (mr *MigrationRunner) Close() error {
	if mr.sharedDB {
		if err := mr.source.Close(); err != nil {
			return fmt.Errorf("closing migration source: %w", err)
		}
		return nil
	}

	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}

type migrateLogger struct {
	log *logrus.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return l.log.IsLevelEnabled(logrus.DebugLevel)
}
