package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort    int    `mapstructure:"http_port"`
	GRPCPort    int    `mapstructure:"grpc_port"`
	LogLevel    string `mapstructure:"log_level"`
	ServiceName string `mapstructure:"service_name"`

	DatabaseDriver string `mapstructure:"database_driver"` // mysql or sqlite
	DatabaseURL    string `mapstructure:"database_url"`

	JwtSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	// An empty RedisAddr disables the permission cache.
	RedisAddr          string        `mapstructure:"redis_addr"`
	RedisDB            int           `mapstructure:"redis_db"`
	PermissionCacheTTL time.Duration `mapstructure:"permission_cache_ttl"`

	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

const defaultJwtSecret = "default-very-insecure-secret-key"

// Load reads config.yaml from the working directory or ./config, then
// applies CRADLE_* environment overrides. A .env file, when present, is
// loaded into the environment first. An explicit path replaces the search.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CRADLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_port", 8080)
	v.SetDefault("grpc_port", 50051)
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "smart-cradle")
	v.SetDefault("database_driver", "mysql")
	v.SetDefault("database_url", "")
	v.SetDefault("jwt_secret", defaultJwtSecret)
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("permission_cache_ttl", 5*time.Minute)
	v.SetDefault("admin_email", "admin@example.com")
	v.SetDefault("admin_password", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database_driver %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}
	return nil
}

// InsecureSecret reports whether the built-in signing key is still in use.
func (c *Config) InsecureSecret() bool {
	return c.JwtSecret == defaultJwtSecret
}
