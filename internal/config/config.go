package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. MAIL_TRIAGE_STORE_TYPE
const EnvPrefix = "MAIL_TRIAGE"

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance from the first config.yaml found
// in the search path. A missing file is not an error.
func New() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mail-triage/")
	v.AddConfigPath("$HOME/.mail-triage")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// NewWithFile creates a configuration from an explicit file
func NewWithFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Pipeline defaults
	v.SetDefault("pipeline.instant_rule_confidence", 0.90)
	v.SetDefault("pipeline.gibberish_confidence", 0.95)
	v.SetDefault("pipeline.ensemble_confidence", 0.90)
	v.SetDefault("pipeline.auth_min_ensemble", 0.40)
	v.SetDefault("pipeline.auth_mechanisms", []string{"spf", "dkim", "dmarc"})
	v.SetDefault("pipeline.domain_band_low", 0.40)
	v.SetDefault("pipeline.domain_band_high", 0.90)
	v.SetDefault("pipeline.domain_weight", 0.5)
	v.SetDefault("pipeline.domain_min_confidence", 0.5)
	v.SetDefault("pipeline.fallback_confidence", 0.0)
	v.SetDefault("pipeline.concurrency", 8)

	// Ensemble defaults
	v.SetDefault("ensemble.tree_weight", 0.4)
	v.SetDefault("ensemble.bayes_weight", 0.3)
	v.SetDefault("ensemble.keyword_weight", 0.3)
	v.SetDefault("ensemble.tie_margin", 0.01)
	v.SetDefault("ensemble.tree_model_path", "")
	v.SetDefault("ensemble.bayes_model_path", "")
	v.SetDefault("ensemble.bayes_max_tokens", 512)
	v.SetDefault("ensemble.text_model", "bayes")

	// Signal defaults
	v.SetDefault("signals.entropy_threshold", 3.2)
	v.SetDefault("signals.max_text_bytes", 64<<10)
	v.SetDefault("signals.lexicon_path", "")
	v.SetDefault("signals.recognized_domains", []string{})
	v.SetDefault("taxonomy.extra_subcategories", map[string][]string{})

	// Reputation defaults
	v.SetDefault("reputation.lookup_timeout", "2s")
	v.SetDefault("reputation.fresh_ttl", "24h")
	v.SetDefault("reputation.fallback_ttl", "5m")
	v.SetDefault("reputation.neutral_score", 0.5)
	v.SetDefault("reputation.age_weight", 0.7)
	v.SetDefault("reputation.auth_weight", 0.3)
	v.SetDefault("reputation.local_part_bonus", 0.05)
	v.SetDefault("reputation.generic_local_parts", []string{})
	v.SetDefault("rdap.base_url", "https://rdap.org")
	v.SetDefault("rdap.max_failures", 5)
	v.SetDefault("rdap.open_for", "30s")

	// Cache defaults
	v.SetDefault("cache.capacity", 100000)
	v.SetDefault("cache.cleanup_frequency", "1h")

	// Store defaults
	v.SetDefault("store.type", "none")
	v.SetDefault("store.sqlite_path", "/data/mail_triage.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/mail_triage?parseTime=true")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.stream_max_len", 100000)
	v.SetDefault("store.record_history", true)

	// Feedback defaults
	v.SetDefault("feedback.confidence_weight", 0.6)
	v.SetDefault("feedback.specificity_weight", 0.4)
	v.SetDefault("feedback.ensemble_floor", 0.3)
	v.SetDefault("feedback.ensemble_specificity", 0.5)
	v.SetDefault("feedback.ensemble_alternatives", 2)
	v.SetDefault("feedback.terminal_confidence", 0.3)
	v.SetDefault("feedback.memory_size", 10000)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.max_tokens", 256)
	v.SetDefault("bedrock.temperature", 0.0)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)
	v.SetDefault("bedrock.timeout", "3s")

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 256)
	v.SetDefault("gemini.temperature", 0.0)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)
	v.SetDefault("gemini.timeout", "3s")

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 256)
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)
	v.SetDefault("openai.timeout", "3s")

	// Metrics defaults
	v.SetDefault("metrics.textfile", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// Set overrides a value, as command-line flags do
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
