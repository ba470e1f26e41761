// Package config provides configuration management for the hive server.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like SERVER_PORT, LOG_LEVEL)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Hive   HiveConfig   `mapstructure:"hive"`
	Worker WorkerConfig `mapstructure:"worker"`
	Log    LogConfig    `mapstructure:"log"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// HiveConfig contains sandbox pool and storage settings.
type HiveConfig struct {
	// PoolSize is the number of sandbox worker threads.
	PoolSize int `mapstructure:"pool_size"`

	// ServicesPath is where uploaded service bundles are persisted.
	ServicesPath string `mapstructure:"services_path"`

	// StoragePath is the root of per-service script storage.
	StoragePath string `mapstructure:"storage_path"`

	// FetchTimeout bounds outbound hive.fetch calls from scripts.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// WorkerConfig contains worker pool sizing.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	IOPoolSize      int `mapstructure:"io_pool_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// AuthConfig contains management API authentication settings. With neither
// a token hash nor a JWT secret configured, the management API is open;
// service dispatch is always public.
type AuthConfig struct {
	// TokenHash is the bcrypt hash of the static management token.
	TokenHash string `mapstructure:"token_hash"`

	// JWTSecret enables HS256 bearer tokens instead of the static token.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/hive")

	// No prefix: standard names like SERVER_PORT, HIVE_POOL_SIZE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Hive.PoolSize < 1 {
		return fmt.Errorf("hive.pool_size must be at least 1")
	}
	if c.Hive.ServicesPath == "" {
		return fmt.Errorf("hive.services_path must not be empty")
	}
	if c.Hive.StoragePath == "" {
		return fmt.Errorf("hive.storage_path must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Hive
	v.SetDefault("hive.pool_size", 4)
	v.SetDefault("hive.services_path", "data/services")
	v.SetDefault("hive.storage_path", "data/storage")
	v.SetDefault("hive.fetch_timeout", "30s")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.io_pool_size", 100)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
