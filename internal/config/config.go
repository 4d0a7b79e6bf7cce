package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/radprogressor-server/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g. RADPROG_SERVER_PORT.
const EnvPrefix = "RADPROG"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v       *viper.Viper
	config  *domain.Config
	envFile string
	paths   []string
}

// ManagerOption customizes where configuration is read from
type ManagerOption func(*Manager)

// WithEnvFile loads the given dotenv file instead of ./.env
func WithEnvFile(path string) ManagerOption {
	return func(m *Manager) {
		m.envFile = path
	}
}

// WithConfigPaths replaces the directories searched for config.yaml
func WithConfigPaths(paths ...string) ManagerOption {
	return func(m *Manager) {
		m.paths = paths
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		envFile: ".env",
		paths:   []string{".", "./config", "/etc/radprogressor/"},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// A missing .env is normal; existing variables win over the file.
	if err := godotenv.Load(m.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", m.envFile, err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range m.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_upload_bytes", 20<<20)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/radprogressor.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "radprogressor")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	// Cache defaults
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.filename", "")

	// Scoring defaults
	v.SetDefault("scoring.alpha", 0.7)
	v.SetDefault("scoring.beta", 0.3)

	// Collaborator defaults
	v.SetDefault("vision.backend", "intensity")
	v.SetDefault("vision.base_url", "")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.timeout", "30s")
	v.SetDefault("vision.rate_limit", 10)

	v.SetDefault("narrative.backend", "template")
	v.SetDefault("narrative.api_key", "")
	v.SetDefault("narrative.model", "gemini-1.5-flash")
	v.SetDefault("narrative.timeout", "20s")

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.local_path", "./data/images")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")

	v.SetDefault("mcp.server_name", "radprogressor")
	v.SetDefault("mcp.server_version", "0.1.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the service cannot run with.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be positive")
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("database sqlite_path is required")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", config.Database.Driver)
	}

	switch config.Cache.Driver {
	case "none", "memory":
	case "redis", "tiered":
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required")
		}
	default:
		return fmt.Errorf("unknown cache driver: %q", config.Cache.Driver)
	}

	switch config.Vision.Backend {
	case "intensity":
	case "remote":
		if config.Vision.BaseURL == "" {
			return fmt.Errorf("vision base_url is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown vision backend: %q", config.Vision.Backend)
	}

	switch config.Narrative.Backend {
	case "template":
	case "gemini":
		if config.Narrative.APIKey == "" {
			return fmt.Errorf("narrative api_key is required for the gemini backend")
		}
	default:
		return fmt.Errorf("unknown narrative backend: %q", config.Narrative.Backend)
	}

	switch config.Archive.Driver {
	case "none":
	case "local":
		if config.Archive.LocalPath == "" {
			return fmt.Errorf("archive local_path is required")
		}
	case "s3":
		if config.Archive.Bucket == "" {
			return fmt.Errorf("archive bucket is required")
		}
	default:
		return fmt.Errorf("unknown archive driver: %q", config.Archive.Driver)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if config.Scoring.Alpha < 0 || config.Scoring.Alpha > 1 {
		return fmt.Errorf("scoring alpha must be within [0,1]: %v", config.Scoring.Alpha)
	}
	if config.Scoring.Beta < 0 || config.Scoring.Beta > 1 {
		return fmt.Errorf("scoring beta must be within [0,1]: %v", config.Scoring.Beta)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	if db.Driver == "sqlite" {
		return db.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
