package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/competitor-intel/internal/cost"
	"github.com/sells-group/competitor-intel/internal/resilience"
	"github.com/sells-group/competitor-intel/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. COMPINTEL_STORE_DRIVER.
const EnvPrefix = "COMPINTEL"

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnalysisConfig bounds session fan-out.
type AnalysisConfig struct {
	MaxWorkers     int `yaml:"max_workers" mapstructure:"max_workers"`
	JobTimeoutSecs int `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
}

// JobTimeout returns the per-competitor job timeout.
func (a AnalysisConfig) JobTimeout() time.Duration {
	return time.Duration(a.JobTimeoutSecs) * time.Second
}

// MatchingConfig tunes the profile matcher.
type MatchingConfig struct {
	CandidateLimit  int     `yaml:"candidate_limit" mapstructure:"candidate_limit"`
	EnsureThreshold float64 `yaml:"ensure_threshold" mapstructure:"ensure_threshold"`
}

// ProvidersConfig holds provider credentials and the settings file path.
type ProvidersConfig struct {
	Anthropic    ProviderKey `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity   ProviderKey `yaml:"perplexity" mapstructure:"perplexity"`
	Gemini       ProviderKey `yaml:"gemini" mapstructure:"gemini"`
	SettingsFile string      `yaml:"settings_file" mapstructure:"settings_file"`
	UseKeyring   bool        `yaml:"use_keyring" mapstructure:"use_keyring"`
}

// ProviderKey is an API key supplied through config or environment.
type ProviderKey struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// Keys returns the configured keys by provider name, skipping blanks.
func (p ProvidersConfig) Keys() map[string]string {
	out := make(map[string]string, 3)
	for name, k := range map[string]string{
		"anthropic":  p.Anthropic.Key,
		"perplexity": p.Perplexity.Key,
		"gemini":     p.Gemini.Key,
	} {
		if k = strings.TrimSpace(k); k != "" {
			out[name] = k
		}
	}
	return out
}

// RedisConfig enables the Redis progress bus when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ResilienceConfig tunes retry backoff shared by every provider.
type ResilienceConfig struct {
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// RetryPolicy builds the base retry policy. Attempt counts come from the
// provider settings.
func (r ResilienceConfig) RetryPolicy() resilience.RetryPolicy {
	return resilience.PolicyFromConfig(0, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier)
}

// Rates returns the pricing table: the defaults with any configured model
// rates layered on top.
func (c *Config) Rates() cost.Rates {
	r := cost.DefaultRates()
	for m, rate := range c.Pricing.Anthropic {
		r.Anthropic[m] = rate
	}
	for m, rate := range c.Pricing.Gemini {
		r.Gemini[m] = rate
	}
	for m, rate := range c.Pricing.Perplexity.Models {
		r.Perplexity.Models[m] = rate
	}
	if c.Pricing.Perplexity.PerQuery > 0 {
		r.Perplexity.PerQuery = c.Pricing.Perplexity.PerQuery
	}
	return r
}

// Load reads .env, then configuration from file and environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "competitor-intel.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("analysis.max_workers", 4)
	v.SetDefault("analysis.job_timeout_secs", 180)
	v.SetDefault("matching.candidate_limit", 10)
	v.SetDefault("matching.ensure_threshold", 0.9)
	v.SetDefault("providers.use_keyring", true)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 8000)
	v.SetDefault("resilience.multiplier", 2.0)

	// AutomaticEnv only sees keys viper already knows about.
	for _, k := range []string{"store.database_url", "redis.url",
		"providers.anthropic.key", "providers.perplexity.key", "providers.gemini.key",
		"providers.settings_file"} {
		_ = v.BindEnv(k)
	}

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
