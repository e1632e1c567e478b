package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Zillow    ZillowConfig    `yaml:"zillow" mapstructure:"zillow"`
	Delivery  DeliveryConfig  `yaml:"delivery" mapstructure:"delivery"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Claude API settings for requirement extraction and
// the semantic matcher.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ZillowConfig holds RapidAPI Zillow search settings. An empty key leaves
// the search capability in offline mode (fixture listings).
type ZillowConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Host              string  `yaml:"host" mapstructure:"host"`
	MaxPerLocation    int     `yaml:"max_per_location" mapstructure:"max_per_location"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// DeliveryConfig holds Resend email settings. An empty key simulates sends.
type DeliveryConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	From    string `yaml:"from" mapstructure:"from"`
}

// ScoringConfig tunes the scoring engine.
type ScoringConfig struct {
	MustHaveWeight   float64 `yaml:"must_have_weight" mapstructure:"must_have_weight"`
	NiceToHaveWeight float64 `yaml:"nice_to_have_weight" mapstructure:"nice_to_have_weight"`
	SynonymsPath     string  `yaml:"synonyms_path" mapstructure:"synonyms_path"`
	SemanticMatcher  bool    `yaml:"semantic_matcher" mapstructure:"semantic_matcher"`
}

// PipelineConfig configures stage execution.
type PipelineConfig struct {
	StageTimeoutSecs int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	RankConcurrency  int `yaml:"rank_concurrency" mapstructure:"rank_concurrency"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LISTINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "listings.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("anthropic.max_tokens", 8096)
	v.SetDefault("zillow.host", "real-estate101.p.rapidapi.com")
	v.SetDefault("zillow.max_per_location", 20)
	v.SetDefault("zillow.requests_per_second", 2.0)
	v.SetDefault("delivery.base_url", "https://api.resend.com")
	v.SetDefault("delivery.from", "Harry <onboarding@resend.dev>")
	v.SetDefault("scoring.must_have_weight", 0.7)
	v.SetDefault("scoring.nice_to_have_weight", 0.3)
	v.SetDefault("pipeline.stage_timeout_secs", 120)
	v.SetDefault("pipeline.rank_concurrency", 8)

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

	return &cfg, nil
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
