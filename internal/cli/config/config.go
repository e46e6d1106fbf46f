package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the lodestone configuration, read from lodestone.yml plus
// environment overrides.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Query  QueryConfig  `mapstructure:"query"`
	Schema SchemaConfig `mapstructure:"schema"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory | postgres
	URL    string `mapstructure:"url"`
}

// CacheConfig configures the optional redis read-through cache. An empty
// Addr disables caching.
type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig carries redis connection settings.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// QueryConfig sets query defaults.
type QueryConfig struct {
	PerPage int `mapstructure:"per_page"`
}

// SchemaConfig overrides composition defaults.
type SchemaConfig struct {
	DefaultGroup GroupConfig `mapstructure:"default_group"`
}

// GroupConfig names the group ungrouped fields fall into.
type GroupConfig struct {
	Name  string `mapstructure:"name"`
	Label string `mapstructure:"label"`
}

// Load reads lodestone.yml from the working directory, falling back to
// defaults when absent. Environment variables override file values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("store.driver", "memory")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.ttl_seconds", 30)
	v.SetDefault("query.per_page", 10)
	v.SetDefault("schema.default_group.name", "default")
	v.SetDefault("schema.default_group.label", "Info")

	v.SetConfigName("lodestone")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Store.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q (expected memory or postgres)", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.URL == "" {
		return fmt.Errorf("store.url is required for the postgres driver")
	}
	if cfg.Query.PerPage < 1 {
		return fmt.Errorf("query.per_page must be at least 1")
	}
	return nil
}
