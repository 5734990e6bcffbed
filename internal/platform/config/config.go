// Package config loads the reference store's settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Storage selects the persistence backend of the reference store.
type Storage struct {
	Driver      string `env:"THINGSYNC_STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"THINGSYNC_SQLITE_PATH" envDefault:"thingsync.db"`
	PostgresDSN string `env:"THINGSYNC_POSTGRES_DSN"`
}

// S3 holds the bucket settings for the s3 archive driver. Credentials come
// from the default AWS chain unless given explicitly.
type S3 struct {
	Bucket          string `env:"THINGSYNC_ARCHIVE_S3_BUCKET"`
	Region          string `env:"THINGSYNC_ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"THINGSYNC_ARCHIVE_S3_ENDPOINT"`
	PathStyle       bool   `env:"THINGSYNC_ARCHIVE_S3_PATH_STYLE"`
	AccessKeyID     string `env:"THINGSYNC_ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"THINGSYNC_ARCHIVE_S3_SECRET_ACCESS_KEY"`
}

// Archive selects where seed and backup snapshots live.
type Archive struct {
	Driver string `env:"THINGSYNC_ARCHIVE_DRIVER" envDefault:"memory"`
	FSRoot string `env:"THINGSYNC_ARCHIVE_FS_ROOT" envDefault:"./archive"`
	S3     S3
	// SeedKey names the snapshot Restore resets to. Empty means the
	// built-in seed.
	SeedKey string `env:"THINGSYNC_SEED_KEY"`
}

// Config is the full environment configuration.
type Config struct {
	Storage          Storage
	Archive          Archive
	MetricsNamespace string `env:"THINGSYNC_METRICS_NAMESPACE" envDefault:"thingsync"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the full configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
