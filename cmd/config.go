package cmd

import (
	"time"

	"github.com/spf13/viper"

	"github.com/spigell/career-sync/internal/careersite/candoo"
	"github.com/spigell/career-sync/internal/careersite/headhunter"
	"github.com/spigell/career-sync/internal/filtering"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/resolver"
	"github.com/spigell/career-sync/internal/secrets"
	"github.com/spigell/career-sync/internal/tracing"
)

type Config struct {
	LLM       LLMConfig            `mapstructure:"llm"`
	Embedding EmbeddingConfig      `mapstructure:"embedding"`
	Cache     CacheConfig          `mapstructure:"cache"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Resolver  ResolverConfig       `mapstructure:"resolver"`
	Retry     resolver.RetryConfig `mapstructure:"retry"`
	Tracing   tracing.Config       `mapstructure:"tracing"`
	Metrics   MetricsConfig        `mapstructure:"metrics"`
	Schedule  string               `mapstructure:"schedule"`
	Sources   SourcesConfig        `mapstructure:"sources"`
	Filters   filtering.Config     `mapstructure:"filters"`
}

// SecretConfig points at a secret. File wins over env, env over value.
type SecretConfig struct {
	Value string `mapstructure:"value"`
	Env   string `mapstructure:"env"`
	File  string `mapstructure:"file"`
}

func (s SecretConfig) source(name string) secrets.Source {
	return secrets.Source{Name: name, Value: s.Value, Env: s.Env, File: s.File}
}

type GuardConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
	Burst             int           `mapstructure:"burst"`
	MaxFailures       uint32        `mapstructure:"max-failures"`
	OpenTimeout       time.Duration `mapstructure:"open-timeout"`
}

func (g GuardConfig) guard() llm.GuardConfig {
	return llm.GuardConfig{
		Timeout:           g.Timeout,
		RequestsPerSecond: g.RequestsPerSecond,
		Burst:             g.Burst,
		MaxFailures:       g.MaxFailures,
		OpenTimeout:       g.OpenTimeout,
	}
}

type LLMConfig struct {
	Provider        string       `mapstructure:"provider"`
	Model           string       `mapstructure:"model"`
	APIKey          SecretConfig `mapstructure:"api-key"`
	BaseURL         string       `mapstructure:"base-url"`
	ReasoningEffort string       `mapstructure:"reasoning-effort"`
	Concurrency     int          `mapstructure:"concurrency"`
	MaxRetries      int          `mapstructure:"max-retries"`
	MaxLogLength    int          `mapstructure:"max-log-length"`
	Guard           GuardConfig  `mapstructure:"guard"`
}

type EmbeddingConfig struct {
	Provider   string       `mapstructure:"provider"`
	Model      string       `mapstructure:"model"`
	APIKey     SecretConfig `mapstructure:"api-key"`
	BaseURL    string       `mapstructure:"base-url"`
	Dimensions int          `mapstructure:"dimensions"`
	Guard      GuardConfig  `mapstructure:"guard"`
}

type CacheConfig struct {
	// Driver is memory or redis.
	Driver string        `mapstructure:"driver"`
	URL    SecretConfig  `mapstructure:"url"`
	Prefix string        `mapstructure:"prefix"`
	Size   int           `mapstructure:"size"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type StorageConfig struct {
	// Driver is memory or postgres.
	Driver string       `mapstructure:"driver"`
	DSN    SecretConfig `mapstructure:"dsn"`
	// Migrate applies pending migrations on startup.
	Migrate bool `mapstructure:"migrate"`
}

type ResolverConfig struct {
	K         int     `mapstructure:"k"`
	Threshold float64 `mapstructure:"threshold"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

type SourcesConfig struct {
	Candoo     []CandooSource     `mapstructure:"candoo"`
	HeadHunter []HeadHunterSource `mapstructure:"headhunter"`
}

type CandooSource struct {
	candoo.Config `mapstructure:",squash"`
	AuthKey       SecretConfig `mapstructure:"auth-key"`
}

type HeadHunterSource struct {
	headhunter.Config `mapstructure:",squash"`
	Token             SecretConfig `mapstructure:"token"`
}

func setDefaults() {
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.api-key.env", "OPENAI_API_KEY")
	viper.SetDefault("llm.concurrency", 8)
	viper.SetDefault("llm.guard.timeout", 2*time.Minute)
	viper.SetDefault("llm.guard.max-failures", 5)
	viper.SetDefault("llm.guard.open-timeout", 30*time.Second)

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.api-key.env", "OPENAI_API_KEY")
	viper.SetDefault("embedding.guard.timeout", time.Minute)
	viper.SetDefault("embedding.guard.max-failures", 5)
	viper.SetDefault("embedding.guard.open-timeout", 30*time.Second)

	viper.SetDefault("cache.driver", "memory")
	viper.SetDefault("cache.prefix", app)

	viper.SetDefault("storage.driver", "memory")
	viper.SetDefault("storage.dsn.env", "DATABASE_URL")

	retry := resolver.DefaultRetryConfig()
	viper.SetDefault("retry.max-attempts", retry.MaxAttempts)
	viper.SetDefault("retry.initial-interval", retry.InitialInterval)
	viper.SetDefault("retry.max-interval", retry.MaxInterval)

	viper.SetDefault("schedule", "@every 6h")
	viper.SetDefault("metrics.listen", ":9090")
}
