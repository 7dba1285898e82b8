package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	GinMode string `yaml:"gin_mode"`
}

// AuthConfig holds JWT and admin credential settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	JWTAudience   string        `yaml:"jwt_audience"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminUsername string        `yaml:"admin_username"`
	AdminPassword string        `yaml:"admin_password"`
}

// DatabaseConfig holds the SQLite location used for users and audit records
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds the in-process cache settings
type CacheConfig struct {
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	MaxKeys          int           `yaml:"max_keys"`
	MaxSize          int64         `yaml:"max_size"`
	StrictInvariants bool          `yaml:"strict_invariants"`
}

// StorageConfig holds the storage optimizer settings
type StorageConfig struct {
	RootDir    string        `yaml:"root_dir"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxItems   int           `yaml:"max_items"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the root configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns a Config with development defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8008",
			GinMode: "release",
		},
		Auth: AuthConfig{
			JWTSecret:     "development-insecure-secret-change-me",
			JWTIssuer:     "disclosure-cache-api",
			JWTAudience:   "disclosure-cache-clients",
			TokenTTL:      24 * time.Hour,
			AdminUsername: "admin",
			AdminPassword: "admin",
		},
		Database: DatabaseConfig{
			Path: "disclosure-cache.db",
		},
		Cache: CacheConfig{
			DefaultTTL:      time.Hour,
			CleanupInterval: 5 * time.Minute,
			MaxKeys:         1000,
			MaxSize:         50 * 1024 * 1024,
		},
		Storage: StorageConfig{
			RootDir:    "markdown-files",
			DefaultTTL: 30 * time.Minute,
			MaxItems:   100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ApplyEnv overrides cfg with CACHE_API_* environment variables
func ApplyEnv(cfg *Config) error {
	cfg.Server.Addr = getEnv("CACHE_API_ADDR", cfg.Server.Addr)
	cfg.Server.GinMode = getEnv("CACHE_API_GIN_MODE", cfg.Server.GinMode)
	cfg.Auth.JWTSecret = getEnv("CACHE_API_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTIssuer = getEnv("CACHE_API_JWT_ISSUER", cfg.Auth.JWTIssuer)
	cfg.Auth.JWTAudience = getEnv("CACHE_API_JWT_AUDIENCE", cfg.Auth.JWTAudience)
	cfg.Auth.AdminUsername = getEnv("CACHE_API_ADMIN_USERNAME", cfg.Auth.AdminUsername)
	cfg.Auth.AdminPassword = getEnv("CACHE_API_ADMIN_PASSWORD", cfg.Auth.AdminPassword)
	cfg.Database.Path = getEnv("CACHE_API_DB_PATH", cfg.Database.Path)
	cfg.Storage.RootDir = getEnv("CACHE_API_STORAGE_DIR", cfg.Storage.RootDir)
	cfg.Log.Level = getEnv("CACHE_API_LOG_LEVEL", cfg.Log.Level)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CACHE_API_TOKEN_TTL", &cfg.Auth.TokenTTL},
		{"CACHE_API_DEFAULT_TTL", &cfg.Cache.DefaultTTL},
		{"CACHE_API_CLEANUP_INTERVAL", &cfg.Cache.CleanupInterval},
		{"CACHE_API_STORAGE_TTL", &cfg.Storage.DefaultTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("CACHE_API_MAX_KEYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_API_MAX_KEYS: %w", err)
		}
		cfg.Cache.MaxKeys = n
	}
	if v := os.Getenv("CACHE_API_MAX_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CACHE_API_MAX_SIZE: %w", err)
		}
		cfg.Cache.MaxSize = n
	}
	if v := os.Getenv("CACHE_API_STRICT_INVARIANTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_API_STRICT_INVARIANTS: %w", err)
		}
		cfg.Cache.StrictInvariants = b
	}
	if v := os.Getenv("CACHE_API_LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_API_LOG_DEVELOPMENT: %w", err)
		}
		cfg.Log.Development = b
	}
	return nil
}
