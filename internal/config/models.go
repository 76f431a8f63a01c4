package config

import (
	"time"

	"github.com/mikey/mail-triage/internal/adapters/rdap"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/feedback"
	"github.com/mikey/mail-triage/internal/pipeline"
	"github.com/mikey/mail-triage/internal/reputation"
	"github.com/mikey/mail-triage/internal/service"
)

// Store types
const (
	StoreNone   = "none"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

// Text model providers for the probabilistic ensemble slot
const (
	TextModelBayes   = "bayes"
	TextModelOpenAI  = "openai"
	TextModelBedrock = "bedrock"
	TextModelGemini  = "gemini"
)

// EnsembleConfig represents the ensemble slots
type EnsembleConfig struct {
	TreeWeight     float64
	BayesWeight    float64
	KeywordWeight  float64
	TieMargin      float64
	TreeModelPath  string
	BayesModelPath string
	BayesMaxTokens int
	// TextModel picks what fills the probabilistic slot
	TextModel string
}

// SignalsConfig represents the extractor settings
type SignalsConfig struct {
	EntropyThreshold   float64
	MaxTextBytes       int
	LexiconPath        string
	RecognizedDomains  []string
	ExtraSubcategories map[string][]string
}

// CacheConfig represents the in-process domain cache
type CacheConfig struct {
	Capacity         int
	CleanupFrequency time.Duration
}

// StoreConfig represents the persistent backend
type StoreConfig struct {
	Type          string
	SQLitePath    string
	MySQLDSN      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StreamMaxLen  int64
	RecordHistory bool
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
	Timeout     time.Duration
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
	Timeout     time.Duration
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
	Timeout     time.Duration
}

// duration reads key, falling back to def when unset or malformed
func (c *Config) duration(key string, def time.Duration) time.Duration {
	if d, err := c.GetDuration(key); err == nil && d > 0 {
		return d
	}
	return def
}

// GetPipeline returns the tier thresholds
func (c *Config) GetPipeline() pipeline.Config {
	return pipeline.Config{
		InstantRuleConfidence: c.GetFloat64("pipeline.instant_rule_confidence"),
		GibberishConfidence:   c.GetFloat64("pipeline.gibberish_confidence"),
		EnsembleConfidence:    c.GetFloat64("pipeline.ensemble_confidence"),
		AuthMinEnsemble:       c.GetFloat64("pipeline.auth_min_ensemble"),
		AuthMechanisms:        c.GetStringSlice("pipeline.auth_mechanisms"),
		DomainBandLow:         c.GetFloat64("pipeline.domain_band_low"),
		DomainBandHigh:        c.GetFloat64("pipeline.domain_band_high"),
		DomainWeight:          c.GetFloat64("pipeline.domain_weight"),
		DomainMinConfidence:   c.GetFloat64("pipeline.domain_min_confidence"),
		FallbackConfidence:    c.GetFloat64("pipeline.fallback_confidence"),
		Concurrency:           c.GetInt("pipeline.concurrency"),
	}
}

// GetEnsemble returns the ensemble configuration
func (c *Config) GetEnsemble() EnsembleConfig {
	return EnsembleConfig{
		TreeWeight:     c.GetFloat64("ensemble.tree_weight"),
		BayesWeight:    c.GetFloat64("ensemble.bayes_weight"),
		KeywordWeight:  c.GetFloat64("ensemble.keyword_weight"),
		TieMargin:      c.GetFloat64("ensemble.tie_margin"),
		TreeModelPath:  c.GetString("ensemble.tree_model_path"),
		BayesModelPath: c.GetString("ensemble.bayes_model_path"),
		BayesMaxTokens: c.GetInt("ensemble.bayes_max_tokens"),
		TextModel:      c.GetString("ensemble.text_model"),
	}
}

// GetSignals returns the extractor configuration
func (c *Config) GetSignals() SignalsConfig {
	return SignalsConfig{
		EntropyThreshold:   c.GetFloat64("signals.entropy_threshold"),
		MaxTextBytes:       c.GetInt("signals.max_text_bytes"),
		LexiconPath:        c.GetString("signals.lexicon_path"),
		RecognizedDomains:  c.GetStringSlice("signals.recognized_domains"),
		ExtraSubcategories: c.v.GetStringMapStringSlice("taxonomy.extra_subcategories"),
	}
}

// GetReputation returns the validator configuration
func (c *Config) GetReputation() reputation.Config {
	def := reputation.DefaultConfig()
	generic := c.GetStringSlice("reputation.generic_local_parts")
	if len(generic) == 0 {
		generic = def.GenericLocalParts
	}
	return reputation.Config{
		LookupTimeout:     c.duration("reputation.lookup_timeout", def.LookupTimeout),
		FreshTTL:          c.duration("reputation.fresh_ttl", def.FreshTTL),
		FallbackTTL:       c.duration("reputation.fallback_ttl", def.FallbackTTL),
		NeutralScore:      c.GetFloat64("reputation.neutral_score"),
		AgeWeight:         c.GetFloat64("reputation.age_weight"),
		AuthWeight:        c.GetFloat64("reputation.auth_weight"),
		LocalPartBonus:    c.GetFloat64("reputation.local_part_bonus"),
		GenericLocalParts: generic,
	}
}

// GetRDAP returns the registration lookup configuration. Requests share the
// validator's lookup timeout.
func (c *Config) GetRDAP() rdap.Config {
	return rdap.Config{
		BaseURL:     c.GetString("rdap.base_url"),
		Timeout:     c.duration("reputation.lookup_timeout", reputation.DefaultConfig().LookupTimeout),
		MaxFailures: uint32(max(0, c.GetInt("rdap.max_failures"))),
		OpenFor:     c.duration("rdap.open_for", 30*time.Second),
	}
}

// GetCache returns the domain cache configuration
func (c *Config) GetCache() CacheConfig {
	return CacheConfig{
		Capacity:         c.GetInt("cache.capacity"),
		CleanupFrequency: c.duration("cache.cleanup_frequency", time.Hour),
	}
}

// GetStore returns the persistent backend configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:          c.GetString("store.type"),
		SQLitePath:    c.GetString("store.sqlite_path"),
		MySQLDSN:      c.GetString("store.mysql_dsn"),
		RedisAddr:     c.GetString("store.redis_addr"),
		RedisPassword: c.GetString("store.redis_password"),
		RedisDB:       c.GetInt("store.redis_db"),
		StreamMaxLen:  c.v.GetInt64("store.stream_max_len"),
		RecordHistory: c.GetBool("store.record_history"),
	}
}

// GetFeedback returns the alternative ranking configuration
func (c *Config) GetFeedback() feedback.Config {
	return feedback.Config{
		ConfidenceWeight:     c.GetFloat64("feedback.confidence_weight"),
		SpecificityWeight:    c.GetFloat64("feedback.specificity_weight"),
		EnsembleFloor:        c.GetFloat64("feedback.ensemble_floor"),
		EnsembleSpecificity:  c.GetFloat64("feedback.ensemble_specificity"),
		EnsembleAlternatives: c.GetInt("feedback.ensemble_alternatives"),
		TerminalOrder:        []core.Category{core.CategoryCommercialBulk, core.CategoryLegitimate},
		TerminalConfidence:   c.GetFloat64("feedback.terminal_confidence"),
	}
}

// GetService returns the facade configuration
func (c *Config) GetService() service.Config {
	return service.Config{
		MemorySize: c.GetInt("feedback.memory_size"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
		Timeout:     c.duration("bedrock.timeout", 3*time.Second),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
		Timeout:     c.duration("gemini.timeout", 3*time.Second),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
		Timeout:     c.duration("openai.timeout", 3*time.Second),
	}
}
