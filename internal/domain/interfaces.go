package domain

import (
	"context"
	"image"
	"io"
)

// VisionClassifier produces a findings vector for a normalized grayscale image
type VisionClassifier interface {
	Predict(ctx context.Context, img *image.Gray) (FindingsVector, error)
}

// ReportClassifier maps free-text report content onto a change direction
type ReportClassifier interface {
	Classify(ctx context.Context, text string) (ChangeDirection, error)
}

// Narrator writes a hedged summary for the given audience
type Narrator interface {
	Summarize(ctx context.Context, in NarrativeInput, audience Audience) (string, error)
}

// StudyRepository defines the interface for study record persistence.
// Timeline returns records in chronological order (study_date, then
// insertion time). Latest returns ErrNotFound when the patient has no studies.
type StudyRepository interface {
	UpsertPatient(ctx context.Context, patientID string) error
	InsertStudy(ctx context.Context, record *StudyRecord) error
	Timeline(ctx context.Context, patientID string) ([]*StudyRecord, error)
	Latest(ctx context.Context, patientID string) (*StudyRecord, error)
	Close() error
}

// ImageArchive stores image bytes and returns a reference to them
type ImageArchive interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// TextCache is a string key/value cache with a TTL applied by the implementation
type TextCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
