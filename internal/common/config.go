package common

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/fieldsurvey/constants"
)

// Config holds all application configuration
type Config struct {
	Storage   StorageConfig
	Database  DatabaseConfig
	Transform TransformConfig
	Geo       GeoConfig
	Queue     QueueConfig
	Log       LogConfig
}

// StorageConfig holds the filesystem locations
type StorageConfig struct {
	DataDir    string // permanent, application-private storage
	ScratchDir string // volatile capture scratch area
	InboxDir   string // captures waiting for import; never reclaimed
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	WriteRetries     int
}

// TransformConfig holds image transform configuration
type TransformConfig struct {
	MaxWidth      int
	JPEGQuality   int
	Operator      string
	HeicConverter string
}

// GeoConfig holds coordinate source configuration
type GeoConfig struct {
	FixTimeout time.Duration
	StaticFix  string
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Size           int
	ProcessTimeout time.Duration
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables.
// A .env file in the working directory, when present, is applied first
// without overriding variables already set in the environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	dataDir := getEnv("FIELDSURVEY_DATA_DIR", "./data")
	return &Config{
		Storage: StorageConfig{
			DataDir:    dataDir,
			ScratchDir: getEnv("FIELDSURVEY_SCRATCH_DIR", "./scratch"),
			InboxDir:   getEnv("FIELDSURVEY_INBOX_DIR", "./inbox"),
		},
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", DefaultSQLiteDSN(dataDir)),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 4),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			WriteRetries:     getEnvAsInt("STORE_WRITE_RETRIES", 3),
		},
		Transform: TransformConfig{
			MaxWidth:      getEnvAsInt("TRANSFORM_MAX_WIDTH", 1280),
			JPEGQuality:   getEnvAsInt("TRANSFORM_JPEG_QUALITY", 80),
			Operator:      getEnv("WATERMARK_OPERATOR", "Field Survey"),
			HeicConverter: getEnv("HEIC_CONVERTER", "magick"),
		},
		Geo: GeoConfig{
			FixTimeout: getEnvAsDuration("GEO_FIX_TIMEOUT", 10*time.Second),
			StaticFix:  getEnv("GEO_STATIC_FIX", ""),
		},
		Queue: QueueConfig{
			Size:           getEnvAsInt("QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", 3*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// DefaultSQLiteDSN points at the job database inside dataDir, opened for
// crash consistency (WAL journal, full fsync on commit).
func DefaultSQLiteDSN(dataDir string) string {
	path := filepath.Join(dataDir, constants.DatabaseFileName)
	return "file:" + filepath.ToSlash(path) +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return NewAppError(CodeConfigError, "FIELDSURVEY_DATA_DIR is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Storage.ScratchDir) == "" {
		return NewAppError(CodeConfigError, "FIELDSURVEY_SCRATCH_DIR is required", ErrInvalidInput)
	}
	if filepath.Clean(c.Storage.DataDir) == filepath.Clean(c.Storage.ScratchDir) {
		return NewAppError(CodeConfigError, "data and scratch directories must differ", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Storage.InboxDir) == "" {
		return NewAppError(CodeConfigError, "FIELDSURVEY_INBOX_DIR is required", ErrInvalidInput)
	}
	if overlaps(c.Storage.InboxDir, c.Storage.ScratchDir) || overlaps(c.Storage.InboxDir, c.Storage.DataDir) {
		return NewAppError(CodeConfigError, "inbox must not overlap the scratch or data directory", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError(CodeConfigError, "DB_URL is required", ErrInvalidInput)
	}
	if c.Transform.JPEGQuality < 1 || c.Transform.JPEGQuality > 100 {
		return NewAppError(CodeConfigError, "TRANSFORM_JPEG_QUALITY must be within 1..100", ErrInvalidInput)
	}
	if c.Transform.MaxWidth < 0 {
		return NewAppError(CodeConfigError, "TRANSFORM_MAX_WIDTH must not be negative", ErrInvalidInput)
	}
	if c.Geo.FixTimeout <= 0 {
		return NewAppError(CodeConfigError, "GEO_FIX_TIMEOUT must be positive", ErrInvalidInput)
	}
	return nil
}

func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// LogLevel maps the configured level name onto slog.
func (c LogConfig) LogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from the log configuration.
func (c LogConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
