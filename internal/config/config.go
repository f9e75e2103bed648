// Package config loads runtime settings from the environment and the
// declarative project files (services, sink groups, column templates and
// transform rules).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"cdc_migrator/internal/secret"
)

// Config holds process-wide settings. CLI flags override these values.
type Config struct {
	LogLevel       string
	LogFormat      string
	ProjectRoot    string
	MigrationsDir  string
	Env            string
	ConnectTimeout time.Duration
	// SecretKey decrypts sealed ("enc:") server passwords. Optional.
	SecretKey []byte
}

// Load reads .env (when present) and then the CDC_* environment variables.
// Variables already set in the environment win over .env entries.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		LogLevel:      getEnv("CDC_LOG_LEVEL", "info"),
		LogFormat:     getEnv("CDC_LOG_FORMAT", "text"),
		ProjectRoot:   getEnv("CDC_PROJECT_ROOT", "."),
		MigrationsDir: getEnv("CDC_MIGRATIONS_DIR", "migrations"),
		Env:           getEnv("CDC_ENV", "dev"),
	}

	timeout, err := time.ParseDuration(getEnv("CDC_CONNECT_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("CDC_CONNECT_TIMEOUT: %w", err)
	}
	cfg.ConnectTimeout = timeout

	key, err := secret.ParseKey(os.Getenv("CDC_SECRET_KEY"))
	if err != nil {
		return Config{}, err
	}
	cfg.SecretKey = key

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ProjectRoot == "" {
		return errors.New("CDC_PROJECT_ROOT is required")
	}
	if c.MigrationsDir == "" {
		return errors.New("CDC_MIGRATIONS_DIR is required")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("CDC_CONNECT_TIMEOUT must be positive")
	}
	return nil
}

// MigrationsPath resolves MigrationsDir against ProjectRoot.
func (c Config) MigrationsPath() string {
	if filepath.IsAbs(c.MigrationsDir) {
		return c.MigrationsDir
	}
	return filepath.Join(c.ProjectRoot, c.MigrationsDir)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
