// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Values come from three layers,
// later layers winning: built-in defaults, an optional beacon.yaml file,
// then environment variables.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DevMode  bool   `yaml:"dev_mode"`

	Cache     CacheConfig     `yaml:"cache"`
	Backup    BackupConfig    `yaml:"backup"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// CacheConfig selects and tunes the analysis result cache.
type CacheConfig struct {
	// Backend is one of "redis", "sqlite" or "memory".
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// BackupConfig holds S3-compatible backup settings.
type BackupConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
	// MinKeep is the number of recent backups rotation always preserves.
	MinKeep int `yaml:"min_keep"`
}

// SchedulerConfig holds cron specs for the background jobs.
type SchedulerConfig struct {
	CacheSweepSpec string `yaml:"cache_sweep_spec"`
	BackupSpec     string `yaml:"backup_spec"`
}

// Load reads configuration: defaults, then beacon.yaml (or the file
// named by BEACON_CONFIG) if present, then environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := defaults()

	if err := cfg.loadYAML(getEnv("BEACON_CONFIG", "beacon.yaml")); err != nil {
		return nil, err
	}
	cfg.loadEnv()

	// Always resolve the data directory to an absolute path and make
	// sure it exists before anything opens a database in it.
	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DataDir:  "./data",
		Port:     8001,
		LogLevel: "info",
		Cache: CacheConfig{
			Backend:   "sqlite",
			TTL:       1 * time.Hour,
			RedisAddr: "localhost:6379",
		},
		Backup: BackupConfig{
			Region:  "auto",
			Prefix:  "beacon-backups",
			MinKeep: 3,
		},
		Scheduler: SchedulerConfig{
			CacheSweepSpec: "0 * * * *", // hourly
			BackupSpec:     "30 2 * * *",
		},
	}
}

// loadYAML overlays settings from a YAML file. A missing file is fine;
// a malformed one is not.
func (c *Config) loadYAML(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays settings from environment variables. Env always wins
// over the file so deployments can override without editing it.
func (c *Config) loadEnv() {
	c.DataDir = getEnv("BEACON_DATA_DIR", c.DataDir)
	c.Port = getEnvAsInt("BEACON_PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DevMode = getEnvAsBool("DEV_MODE", c.DevMode)

	c.Cache.Backend = getEnv("BEACON_CACHE_BACKEND", c.Cache.Backend)
	if v := getEnv("BEACON_CACHE_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvAsInt("REDIS_DB", c.Cache.RedisDB)

	c.Backup.Enabled = getEnvAsBool("BACKUP_ENABLED", c.Backup.Enabled)
	c.Backup.Bucket = getEnv("BACKUP_S3_BUCKET", c.Backup.Bucket)
	c.Backup.Endpoint = getEnv("BACKUP_S3_ENDPOINT", c.Backup.Endpoint)
	c.Backup.Region = getEnv("BACKUP_S3_REGION", c.Backup.Region)
	c.Backup.AccessKey = getEnv("BACKUP_S3_ACCESS_KEY", c.Backup.AccessKey)
	c.Backup.SecretKey = getEnv("BACKUP_S3_SECRET_KEY", c.Backup.SecretKey)
	c.Backup.Prefix = getEnv("BACKUP_S3_PREFIX", c.Backup.Prefix)
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Cache.Backend {
	case "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup enabled but no S3 bucket configured")
	}
	return nil
}

// Helper functions
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
