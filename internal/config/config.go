// Package config loads the module configuration from an optional YAML file,
// environment variables prefixed AUTHKIT_, and built-in defaults, in that
// ascending order of precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Token  TokenConfig  `mapstructure:"token"`
	Store  StoreConfig  `mapstructure:"store"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Logger LoggerConfig `mapstructure:"logger"`
}

// APIConfig points at the backend REST API.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// TokenConfig tunes expiry handling.
type TokenConfig struct {
	// ExpirySkew is how long before the real expiry a token is already
	// treated as expired.
	ExpirySkew time.Duration `mapstructure:"expiry_skew"`
}

// StoreConfig selects the token store backend.
type StoreConfig struct {
	// Backend is one of memory, file, redis.
	Backend string `mapstructure:"backend"`
	// FilePath is the token document location for the file backend.
	FilePath string `mapstructure:"file_path"`
}

// RedisConfig configures the redis token store backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// LoggerConfig configures zap.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. path may be empty, in which case only the search
// paths, environment and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("authkit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("authkit")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist; the default search may come up empty
		// and fall back to env + defaults.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("config: redis backend requires redis.addr")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.request_timeout", 15*time.Second)
	v.SetDefault("api.rate_limit_rps", 0.0)
	v.SetDefault("api.rate_limit_burst", 1)
	v.SetDefault("token.expiry_skew", 30*time.Second)
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.file_path", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "authkit:tokens")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
