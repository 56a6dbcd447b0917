// Package config loads application configuration from config.yaml and
// the PROFILE_ prefixed environment.
package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Intake    IntakeConfig    `yaml:"intake" mapstructure:"intake"`
	Extractor ExtractorConfig `yaml:"extractor" mapstructure:"extractor"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig points at an optional field registry override file.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// FloorsConfig holds the per-class confidence minimums.
type FloorsConfig struct {
	Tier1  float64 `yaml:"tier1" mapstructure:"tier1"`
	Signal float64 `yaml:"signal" mapstructure:"signal"`
}

// ActivationConfig holds the activation gate thresholds.
type ActivationConfig struct {
	Tier2Min     float64 `yaml:"tier2_min" mapstructure:"tier2_min"`
	TotalMin     float64 `yaml:"total_min" mapstructure:"total_min"`
	MinOpenEnded int     `yaml:"min_open_ended" mapstructure:"min_open_ended"`
	MinSessions  int     `yaml:"min_sessions" mapstructure:"min_sessions"`
}

// EngineConfig tunes resolution and scoring.
type EngineConfig struct {
	Floors          FloorsConfig     `yaml:"floors" mapstructure:"floors"`
	Weights         map[int]float64  `yaml:"weights" mapstructure:"weights"`
	Activation      ActivationConfig `yaml:"activation" mapstructure:"activation"`
	ConflictRetries int              `yaml:"conflict_retries" mapstructure:"conflict_retries"`
}

// IntakeConfig tunes the guided flow.
type IntakeConfig struct {
	IdleMinutes int `yaml:"idle_minutes" mapstructure:"idle_minutes"`
}

// ExtractorConfig configures the Anthropic extraction adapter.
type ExtractorConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	Model      string  `yaml:"model" mapstructure:"model"`
	MaxTokens  int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst  int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml (optional) plus the environment, applies
// defaults, and validates.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROFILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "profile-engine.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.floors.tier1", 0.90)
	v.SetDefault("engine.floors.signal", 0.70)
	v.SetDefault("engine.weights", map[string]float64{"1": 0.50, "2": 0.35, "3": 0.15})
	v.SetDefault("engine.activation.tier2_min", 70)
	v.SetDefault("engine.activation.total_min", 45)
	v.SetDefault("engine.activation.min_open_ended", 2)
	v.SetDefault("engine.activation.min_sessions", 2)
	v.SetDefault("engine.conflict_retries", 3)
	v.SetDefault("intake.idle_minutes", 240)
	v.SetDefault("extractor.model", "claude-haiku-4-5-20251001")
	v.SetDefault("extractor.max_tokens", 1024)
	v.SetDefault("extractor.rate_per_sec", 2)
	v.SetDefault("extractor.rate_burst", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run under.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	var sum float64
	for _, w := range c.Engine.Weights {
		if w < 0 {
			return eris.New("config: tier weights must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return eris.Errorf("config: tier weights sum to %.4f, want 1.0", sum)
	}

	if c.Engine.Floors.Tier1 < 0 || c.Engine.Floors.Tier1 > 1 ||
		c.Engine.Floors.Signal < 0 || c.Engine.Floors.Signal > 1 {
		return eris.New("config: confidence floors must be within [0,1]")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
