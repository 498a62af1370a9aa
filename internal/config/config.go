/**
 * Configuration for the overlay editor
 *
 * Loads configuration from environment variables matching .env.overlay
 */

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds editor configuration
type Config struct {
	// Collaborator service
	EditorAPIURL   string
	RequestTimeout time.Duration
	RetryBackoff   time.Duration

	// Durable edit cache
	EditStoreDriver string // sqlite, redis, postgres, memory
	EditStorePath   string
	DeviceID        string

	// Redis configuration (redis edit store, export queue)
	RedisURL string

	// PostgreSQL configuration (postgres edit store)
	DatabaseURL string

	// Overlay session
	BlockSource       string // local, remote
	AutoFlushInterval time.Duration
	RenderScale       float64

	// HTTP host
	HTTPAddr    string
	MaxFileSize int64

	// Export worker
	ExportQueue       string
	WorkerConcurrency int
	ExportResultTTL   time.Duration

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		EditorAPIURL:      getEnvOrDefault("EDITOR_API_URL", "http://localhost:8000/api"),
		RequestTimeout:    getEnvAsMillisOrDefault("REQUEST_TIMEOUT_MS", 10000),
		RetryBackoff:      getEnvAsMillisOrDefault("RETRY_BACKOFF_MS", 500),
		EditStoreDriver:   getEnvOrDefault("EDIT_STORE_DRIVER", "sqlite"),
		EditStorePath:     getEnvOrDefault("EDIT_STORE_PATH", "overlay-edits.db"),
		DeviceID:          getEnvOrDefault("DEVICE_ID", ""),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		BlockSource:       getEnvOrDefault("BLOCK_SOURCE", "local"),
		AutoFlushInterval: getEnvAsMillisOrDefault("AUTO_FLUSH_INTERVAL_MS", 5000),
		RenderScale:       getEnvAsFloatOrDefault("RENDER_SCALE", 1.5),
		HTTPAddr:          getEnvOrDefault("HTTP_ADDR", ":8095"),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 20971520), // 20MB
		ExportQueue:       getEnvOrDefault("EXPORT_QUEUE", "overlay:exports"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ExportResultTTL:   time.Duration(getEnvAsIntOrDefault("EXPORT_RESULT_TTL_SEC", 3600)) * time.Second,
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if cfg.DeviceID == "" {
		id, err := defaultDeviceID(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve device ID: %w", err)
		}
		cfg.DeviceID = id
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.EditorAPIURL == "" {
		return fmt.Errorf("EDITOR_API_URL is required")
	}

	switch c.EditStoreDriver {
	case "sqlite":
		if c.EditStorePath == "" {
			return fmt.Errorf("EDIT_STORE_PATH is required for the sqlite edit store")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis edit store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres edit store")
		}
	case "memory":
	default:
		return fmt.Errorf("EDIT_STORE_DRIVER must be one of sqlite, redis, postgres, memory, got %q", c.EditStoreDriver)
	}

	if c.BlockSource != "local" && c.BlockSource != "remote" {
		return fmt.Errorf("BLOCK_SOURCE must be local or remote, got %q", c.BlockSource)
	}

	if c.RequestTimeout < 100*time.Millisecond || c.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be between 100ms and 5m, got %v", c.RequestTimeout)
	}

	if c.RetryBackoff < 0 || c.RetryBackoff > time.Minute {
		return fmt.Errorf("RETRY_BACKOFF_MS must be between 0 and 1m, got %v", c.RetryBackoff)
	}

	if c.AutoFlushInterval < 500*time.Millisecond {
		return fmt.Errorf("AUTO_FLUSH_INTERVAL_MS must be at least 500ms, got %v", c.AutoFlushInterval)
	}

	if c.RenderScale <= 0 || c.RenderScale > 8 {
		return fmt.Errorf("RENDER_SCALE must be in (0, 8], got %v", c.RenderScale)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 536870912 { // 1KB to 512MB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 512MB, got %d", c.MaxFileSize)
	}

	return nil
}

// defaultDeviceID returns the id generated on first start and kept beside
// the edit store, so the device's record is found again after a restart.
// The memory store keeps nothing across restarts and gets a fresh id.
func defaultDeviceID(cfg *Config) (string, error) {
	if cfg.EditStoreDriver == "memory" || cfg.EditStorePath == "" {
		return uuid.NewString(), nil
	}

	path := cfg.EditStorePath + ".device-id"
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsMillisOrDefault(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsIntOrDefault(key, defaultMillis)) * time.Millisecond
}
