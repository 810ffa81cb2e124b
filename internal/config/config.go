package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ksred/klear-portfolio/internal/trading"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Seed        SeedConfig        `mapstructure:"seed"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type User struct {
	UserID string `mapstructure:"user_id"`
	Secret string `mapstructure:"secret"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	InternalKey string `mapstructure:"internal_key"`
	Users       []User `mapstructure:"users"`
}

type EngineConfig struct {
	CostBasis string `mapstructure:"cost_basis"`
}

type FeedConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	MaxChange float64       `mapstructure:"max_change"`
}

type SeedConfig struct {
	Demo     bool   `mapstructure:"demo"`
	DemoUser string `mapstructure:"demo_user"`
}

type PersistenceConfig struct {
	Retries int `mapstructure:"retries"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

const (
	DefaultPort          = "8080"
	DefaultDatabasePath  = "portfolio.db"
	DefaultJWTSecret     = "klear-secret-key"
	DefaultFeedInterval  = 5 * time.Second
	DefaultFeedMaxChange = 0.01
	DefaultRetries       = 5
	DefaultDemoUser      = "demo"
)

// EnvPrefix is prepended to every environment override, e.g. KLEAR_SERVER_PORT
const EnvPrefix = "KLEAR"

// Load reads the optional config file at path, applies defaults and
// environment overrides, and validates the result. An empty path uses
// defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"server.port":         DefaultPort,
		"database.path":       DefaultDatabasePath,
		"auth.jwt_secret":     DefaultJWTSecret,
		"auth.internal_key":   "",
		"engine.cost_basis":   string(trading.CostBasisKeepFirst),
		"feed.enabled":        true,
		"feed.interval":       DefaultFeedInterval,
		"feed.max_change":     DefaultFeedMaxChange,
		"seed.demo":           false,
		"seed.demo_user":      DefaultDemoUser,
		"persistence.retries": DefaultRetries,
		"log.debug":           false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CostBasisPolicy returns the configured policy
func (c *Config) CostBasisPolicy() trading.CostBasisPolicy {
	return trading.CostBasisPolicy(c.Engine.CostBasis)
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	for i, u := range cfg.Auth.Users {
		if u.UserID == "" || u.Secret == "" {
			return fmt.Errorf("auth.users[%d] needs user_id and secret", i)
		}
	}
	if !cfg.CostBasisPolicy().Valid() {
		return fmt.Errorf("invalid engine.cost_basis %q", cfg.Engine.CostBasis)
	}
	if cfg.Feed.Interval <= 0 {
		return errors.New("invalid feed.interval")
	}
	if cfg.Feed.MaxChange <= 0 || cfg.Feed.MaxChange >= 1 {
		return errors.New("feed.max_change must be between 0 and 1")
	}
	if cfg.Persistence.Retries <= 0 {
		return errors.New("invalid persistence.retries")
	}
	if cfg.Seed.Demo && cfg.Seed.DemoUser == "" {
		return errors.New("seed.demo_user is required when seed.demo is set")
	}
	return nil
}
