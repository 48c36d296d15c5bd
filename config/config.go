// Package config loads and validates the engine's YAML configuration.
// Unknown keys are rejected; secrets are referenced by environment
// variable name, never inlined in the file. Load only checks that a
// required secret is set; its value is read through Secret when the
// adapters are built.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	bioetlerrors "bioetl.dev/bioetl/errors"
	"bioetl.dev/bioetl/httpclient"
)

// Config is the top-level configuration object.
type Config struct {
	Pipeline        PipelineConfig          `mapstructure:"pipeline"`
	HTTP            HTTPSection             `mapstructure:"http"`
	Sources         map[string]SourceConfig `mapstructure:"sources"`
	IO              IOConfig                `mapstructure:"io"`
	Runtime         RuntimeConfig           `mapstructure:"runtime"`
	Logging         LoggingConfig           `mapstructure:"logging"`
	Determinism     DeterminismConfig       `mapstructure:"determinism"`
	Validation      ValidationConfig        `mapstructure:"validation"`
	Materialization MaterializationConfig   `mapstructure:"materialization"`
}

// PipelineConfig names the pipeline and its version.
type PipelineConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	// Release overrides the ChEMBL release tag; empty means the tag is
	// captured from the /status handshake.
	Release string `mapstructure:"release"`
}

// HTTPSection holds the default HTTP profile plus named per-source
// overrides.
type HTTPSection struct {
	Default  HTTPProfile            `mapstructure:"default"`
	Profiles map[string]HTTPProfile `mapstructure:"profiles"`
}

// HTTPProfile configures one httpclient.Client.
type HTTPProfile struct {
	BaseURL           string      `mapstructure:"base_url"`
	TimeoutSec        float64     `mapstructure:"timeout_sec"`
	UserAgent         string      `mapstructure:"user_agent"`
	RateMaxCalls      int         `mapstructure:"rate_max_calls"`
	RatePeriodSec     float64     `mapstructure:"rate_period_sec"`
	RateJitterSec     float64     `mapstructure:"rate_jitter_sec"`
	RetryTotal        int         `mapstructure:"retry_total"`
	BackoffFactor     float64     `mapstructure:"backoff_factor"`
	BackoffMaxSec     float64     `mapstructure:"backoff_max_sec"`
	BreakerThreshold  int         `mapstructure:"breaker_threshold"`
	BreakerTimeoutSec float64     `mapstructure:"breaker_timeout_sec"`
	Cache             CacheConfig `mapstructure:"cache"`
	FallbackOrder     []string    `mapstructure:"fallback_order"`
	PartialRetryMax   int         `mapstructure:"partial_retry_max"`
}

// CacheConfig configures the optional response cache of one profile.
type CacheConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Backend  string  `mapstructure:"backend"` // "memory" or "redis"
	TTLSec   float64 `mapstructure:"ttl_sec"`
	Capacity int     `mapstructure:"capacity"`
	RedisURL string  `mapstructure:"redis_url"`
}

// SourceConfig configures one source adapter.
type SourceConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Profile       string `mapstructure:"profile"`
	BatchSize     int    `mapstructure:"batch_size"`
	MaxURLLength  int    `mapstructure:"max_url_length"`
	APIKeyEnv     string `mapstructure:"api_key_env"`
	EmailEnv      string `mapstructure:"email_env"`
	MailtoEnv     string `mapstructure:"mailto_env"`
	RequireSecret bool   `mapstructure:"require_secret"`
	// Dictionary is the local GtoPdb CSV export path (IUPHAR only);
	// DictionaryURL downloads the export instead. Both empty selects the
	// REST path.
	Dictionary      string  `mapstructure:"dictionary"`
	DictionaryURL   string  `mapstructure:"dictionary_url"`
	PerPage         int     `mapstructure:"per_page"`
	PollIntervalSec float64 `mapstructure:"poll_interval_sec"`
	PollMaxRounds   int     `mapstructure:"poll_max_rounds"`
}

// IOConfig names the input and output roots.
type IOConfig struct {
	Input  InputConfig  `mapstructure:"input"`
	Output OutputConfig `mapstructure:"output"`
}

// InputConfig names where per-pipeline id CSVs live.
type InputConfig struct {
	Dir string `mapstructure:"dir"`
	// IDColumn overrides the entity's default id column name.
	IDColumn string `mapstructure:"id_column"`
}

// OutputConfig names the artifact root and dataset format.
type OutputConfig struct {
	Dir     string `mapstructure:"dir"`
	Format  string `mapstructure:"format"` // "csv" or "parquet"
	DateTag string `mapstructure:"date_tag"`
}

// RuntimeConfig bounds the run.
type RuntimeConfig struct {
	Workers int  `mapstructure:"workers"`
	Limit   int  `mapstructure:"limit"`
	DryRun  bool `mapstructure:"dry_run"`
}

// LoggingConfig configures the logrus bootstrap.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeterminismConfig tunes the deterministic writer.
type DeterminismConfig struct {
	SortBy           []string `mapstructure:"sort_by"`
	Ascending        []bool   `mapstructure:"ascending"`
	FloatPrecision   int      `mapstructure:"float_precision"`
	DatetimeFormat   string   `mapstructure:"datetime_format"`
	NARepresentation string   `mapstructure:"na_representation"`
}

// ValidationConfig sets the failure threshold for the validate stage.
type ValidationConfig struct {
	SeverityThreshold string `mapstructure:"severity_threshold"`
}

// MaterializationConfig toggles the optional report artifacts.
type MaterializationConfig struct {
	Correlation bool `mapstructure:"correlation"`
	Summary     bool `mapstructure:"summary"`
}

// Load reads path, rejecting unknown keys, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &bioetlerrors.ConfigError{Path: path, Reason: err.Error()}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, &bioetlerrors.ConfigError{Path: path, Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints that the decoder cannot
// express: ranges, enum memberships and required secrets.
func (c *Config) Validate() error {
	if c.Pipeline.Name == "" {
		return &bioetlerrors.ConfigError{Path: "pipeline.name", Reason: "required"}
	}
	if c.IO.Output.Format != "" && c.IO.Output.Format != "csv" && c.IO.Output.Format != "parquet" {
		return &bioetlerrors.ConfigError{Path: "io.output.format", Reason: "must be csv or parquet"}
	}
	switch strings.ToLower(c.Validation.SeverityThreshold) {
	case "", "info", "warning", "error", "critical":
	default:
		return &bioetlerrors.ConfigError{Path: "validation.severity_threshold", Reason: "must be one of info, warning, error, critical"}
	}
	if c.Determinism.FloatPrecision < 0 || c.Determinism.FloatPrecision > 17 {
		return &bioetlerrors.ConfigError{Path: "determinism.float_precision", Reason: "must be between 0 and 17"}
	}
	if c.Runtime.Workers < 0 {
		return &bioetlerrors.ConfigError{Path: "runtime.workers", Reason: "must be >= 0"}
	}

	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if src.Profile != "" {
			if _, ok := c.HTTP.Profiles[src.Profile]; !ok {
				return &bioetlerrors.ConfigError{Path: "sources." + name + ".profile", Reason: "unknown http profile " + src.Profile}
			}
		}
		if src.RequireSecret && src.APIKeyEnv != "" {
			if os.Getenv(src.APIKeyEnv) == "" {
				return &bioetlerrors.ConfigError{Path: "sources." + name + ".api_key_env", Reason: "required secret " + src.APIKeyEnv + " is not set"}
			}
		}
	}
	return nil
}

// ProfileFor resolves the HTTP profile a source uses: its named profile
// merged over the defaults.
func (c *Config) ProfileFor(sourceName string) HTTPProfile {
	src, ok := c.Sources[sourceName]
	if !ok || src.Profile == "" {
		return c.HTTP.Default
	}
	p, ok := c.HTTP.Profiles[src.Profile]
	if !ok {
		return c.HTTP.Default
	}
	return mergeProfile(c.HTTP.Default, p)
}

// mergeProfile overlays set fields of p onto base.
func mergeProfile(base, p HTTPProfile) HTTPProfile {
	out := base
	if p.BaseURL != "" {
		out.BaseURL = p.BaseURL
	}
	if p.TimeoutSec > 0 {
		out.TimeoutSec = p.TimeoutSec
	}
	if p.UserAgent != "" {
		out.UserAgent = p.UserAgent
	}
	if p.RateMaxCalls > 0 {
		out.RateMaxCalls = p.RateMaxCalls
	}
	if p.RatePeriodSec > 0 {
		out.RatePeriodSec = p.RatePeriodSec
	}
	if p.RateJitterSec > 0 {
		out.RateJitterSec = p.RateJitterSec
	}
	if p.RetryTotal > 0 {
		out.RetryTotal = p.RetryTotal
	}
	if p.BackoffFactor > 0 {
		out.BackoffFactor = p.BackoffFactor
	}
	if p.BackoffMaxSec > 0 {
		out.BackoffMaxSec = p.BackoffMaxSec
	}
	if p.BreakerThreshold > 0 {
		out.BreakerThreshold = p.BreakerThreshold
	}
	if p.BreakerTimeoutSec > 0 {
		out.BreakerTimeoutSec = p.BreakerTimeoutSec
	}
	if p.Cache.Enabled {
		out.Cache = p.Cache
	}
	if len(p.FallbackOrder) > 0 {
		out.FallbackOrder = p.FallbackOrder
	}
	if p.PartialRetryMax > 0 {
		out.PartialRetryMax = p.PartialRetryMax
	}
	return out
}

// ClientConfig converts an HTTPProfile into the httpclient configuration
// it parameterizes, constructing the configured cache backend. The redis
// backend needs a live connection, so it is wired by the caller; this
// helper covers the in-memory default.
func (p HTTPProfile) ClientConfig(headers map[string]string) (httpclient.Config, error) {
	cfg := httpclient.Config{
		BaseURL:         p.BaseURL,
		Timeout:         secondsOf(p.TimeoutSec),
		UserAgent:       p.UserAgent,
		Headers:         headers,
		RateMaxCalls:    p.RateMaxCalls,
		RatePeriod:      secondsOf(p.RatePeriodSec),
		RateJitter:      secondsOf(p.RateJitterSec),
		RetryTotal:      p.RetryTotal,
		BackoffFactor:   p.BackoffFactor,
		BackoffMax:      secondsOf(p.BackoffMaxSec),
		FailureThresh:   p.BreakerThreshold,
		BreakerTimeout:  secondsOf(p.BreakerTimeoutSec),
		PartialRetryMax: p.PartialRetryMax,
	}
	for _, s := range p.FallbackOrder {
		cfg.FallbackOrder = append(cfg.FallbackOrder, httpclient.FallbackStrategy(s))
	}
	if p.Cache.Enabled {
		cfg.CacheTTL = secondsOf(p.Cache.TTLSec)
		switch p.Cache.Backend {
		case "", "memory":
			capacity := p.Cache.Capacity
			if capacity <= 0 {
				capacity = 1024
			}
			cfg.Cache = httpclient.NewLRUCache(capacity)
		case "redis":
			// Left nil here; the CLI wires NewRedisCache with the
			// profile's redis_url once a context exists.
		default:
			return cfg, &bioetlerrors.ConfigError{Path: "cache.backend", Reason: "must be memory or redis"}
		}
	}
	return cfg, nil
}

func secondsOf(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Secret resolves the environment variable named by envName, returning
// empty when unset.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

// DefaultConfig returns the built-in configuration used when no config
// file is given. Load does not merge it into a loaded file: a section
// missing from the file stays at its zero value.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{Name: "bioetl", Version: "1.0.0"},
		HTTP: HTTPSection{
			Default: HTTPProfile{
				TimeoutSec:        30,
				RateMaxCalls:      5,
				RatePeriodSec:     1,
				RetryTotal:        3,
				BackoffFactor:     2,
				BackoffMaxSec:     60,
				BreakerThreshold:  5,
				BreakerTimeoutSec: 30,
				FallbackOrder:     []string{"network", "timeout", "5xx"},
			},
		},
		IO: IOConfig{
			Input:  InputConfig{Dir: "data/input"},
			Output: OutputConfig{Dir: "data/output", Format: "csv"},
		},
		Runtime:     RuntimeConfig{Workers: 4},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Determinism: DeterminismConfig{FloatPrecision: 6},
		Validation:  ValidationConfig{SeverityThreshold: "error"},
	}
}
