package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radprogressor-server/internal/app"
	"github.com/radprogressor-server/internal/domain"
)

func testConfig(path string) *domain.Config {
	return &domain.Config{
		Database: domain.DatabaseConfig{Driver: "sqlite", SQLitePath: path, AutoMigrate: true},
		Cache:    domain.CacheConfig{Driver: "none"},
		Scoring:  domain.ScoringConfig{Alpha: 0.7, Beta: 0.3},
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(filepath.Join(t.TempDir(), "demo.db"))

	require.NoError(t, run(ctx, cfg, testLogger(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	a, err := app.New(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	timeline, err := a.Timelines.Timeline(ctx, "DEMO001")
	require.NoError(t, err)
	require.Len(t, timeline.Timeline, 3)
	assert.InDelta(t, 0.304, timeline.Timeline[0].ProgressionScore, 1e-9)
	assert.InDelta(t, 0.545, timeline.Timeline[1].ProgressionScore, 1e-9)
	assert.InDelta(t, 0.175, timeline.Timeline[2].ProgressionScore, 1e-9)
}

func TestRun_ReturnsStoreError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	err := run(context.Background(), testConfig(filepath.Join(blocker, "demo.db")), testLogger(), time.Now())
	assert.ErrorContains(t, err, "failed to open study store")
}
