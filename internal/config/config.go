package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Persist   PersistConfig   `yaml:"persist" mapstructure:"persist"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SourcesConfig configures the source catalog and the ingestion coordinator.
type SourcesConfig struct {
	CatalogPath      string `yaml:"catalog_path" mapstructure:"catalog_path"`
	DefaultLimit     int    `yaml:"default_limit" mapstructure:"default_limit"`
	MaxInFlight      int    `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RobotsTTLHours   int    `yaml:"robots_ttl_hours" mapstructure:"robots_ttl_hours"`
}

// RetryConfig configures source fetch retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// NormalizeConfig holds canonicalization limits.
type NormalizeConfig struct {
	MaxTitleLen       int `yaml:"max_title_len" mapstructure:"max_title_len"`
	MaxDescriptionLen int `yaml:"max_description_len" mapstructure:"max_description_len"`
	MaxVotes          int `yaml:"max_votes" mapstructure:"max_votes"`
}

// EnrichConfig configures the enrichment stage.
type EnrichConfig struct {
	Provider               string  `yaml:"provider" mapstructure:"provider"`
	BatchSize              int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency            int     `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs            int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BudgetUSD              float64 `yaml:"budget_usd" mapstructure:"budget_usd"`
	BreakerThreshold       int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs       int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	MaxTokens              int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	EstimatedInputPerItem  int     `yaml:"estimated_input_per_item" mapstructure:"estimated_input_per_item"`
	EstimatedOutputPerItem int     `yaml:"estimated_output_per_item" mapstructure:"estimated_output_per_item"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PersistConfig configures adaptive batching for store writes.
type PersistConfig struct {
	InitialBatchSize int     `yaml:"initial_batch_size" mapstructure:"initial_batch_size"`
	MinBatchSize     int     `yaml:"min_batch_size" mapstructure:"min_batch_size"`
	MaxBatchSize     int     `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	AdditiveStep     int     `yaml:"additive_step" mapstructure:"additive_step"`
	DecreaseFactor   float64 `yaml:"decrease_factor" mapstructure:"decrease_factor"`
	TargetLatencyMs  int     `yaml:"target_latency_ms" mapstructure:"target_latency_ms"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	WriteTimeoutSecs int     `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// RunConfig configures a single pipeline pass.
type RunConfig struct {
	DeadlineSecs     int `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	MinIntervalHours int `yaml:"min_interval_hours" mapstructure:"min_interval_hours"`
	FlushTimeoutSecs int `yaml:"flush_timeout_secs" mapstructure:"flush_timeout_secs"`
}

// MetricsConfig configures the Prometheus Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Deadline returns the run deadline as a duration.
func (c RunConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSecs) * time.Second
}

// MinInterval returns the minimum spacing between recorded runs.
func (c RunConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalHours) * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "radar.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("sources.default_limit", 50)
	v.SetDefault("sources.max_in_flight", 0)
	v.SetDefault("sources.failure_threshold", 5)
	v.SetDefault("sources.user_agent", "saas-radar/1.0 (+https://github.com/sells-group/saas-radar)")
	v.SetDefault("sources.timeout_secs", 30)
	v.SetDefault("sources.robots_ttl_hours", 24)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("normalize.max_title_len", 100)
	v.SetDefault("normalize.max_description_len", 500)
	v.SetDefault("normalize.max_votes", 10000)
	v.SetDefault("enrich.provider", "anthropic")
	v.SetDefault("enrich.batch_size", 10)
	v.SetDefault("enrich.concurrency", 3)
	v.SetDefault("enrich.timeout_secs", 60)
	v.SetDefault("enrich.budget_usd", 1.00)
	v.SetDefault("enrich.breaker_threshold", 3)
	v.SetDefault("enrich.breaker_reset_secs", 60)
	v.SetDefault("enrich.max_tokens", 4000)
	v.SetDefault("enrich.estimated_input_per_item", 120)
	v.SetDefault("enrich.estimated_output_per_item", 150)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("persist.initial_batch_size", 50)
	v.SetDefault("persist.min_batch_size", 5)
	v.SetDefault("persist.max_batch_size", 500)
	v.SetDefault("persist.additive_step", 10)
	v.SetDefault("persist.decrease_factor", 0.5)
	v.SetDefault("persist.target_latency_ms", 2000)
	v.SetDefault("persist.workers", 4)
	v.SetDefault("persist.write_timeout_secs", 30)
	v.SetDefault("run.deadline_secs", 600)
	v.SetDefault("run.min_interval_hours", 20)
	v.SetDefault("run.flush_timeout_secs", 60)
	v.SetDefault("metrics.job", "saas_radar")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 5)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

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

// InitLogger initializes the global zap logger. When cfg.File is set, log
// lines are also written to a size-rotated file.
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

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zapCfg.Level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)
	return nil
}
