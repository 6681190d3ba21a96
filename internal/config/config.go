package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Tier names used by ENABLE_BOOST_SUPPORT and the model mapper.
const (
	TierNone   = "NONE"
	TierBig    = "BIG_MODEL"
	TierMiddle = "MIDDLE_MODEL"
	TierSmall  = "SMALL_MODEL"
)

const (
	DefaultBackendBaseURL = "https://api.openai.com/v1"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8082
	DefaultRequestTimeout = 90
	DefaultMaxRetries     = 2
	DefaultMaxTokens      = 4096
	DefaultMinTokens      = 100
	DefaultBigModel       = "gpt-4o"
	DefaultSmallModel     = "gpt-4o-mini"
	DefaultBoostModel     = "gpt-4o"
	DefaultMaxIterations  = 3

	customHeaderPrefix = "CUSTOM_HEADER_"
)

// Config is the root configuration of the proxy.
type Config struct {
	SDKConfig `yaml:",inline"`

	Host  string `yaml:"host" json:"host" toml:"host"`
	Port  int    `yaml:"port" json:"port" toml:"port" validate:"gte=1,lte=65535"`
	Debug bool   `yaml:"debug" json:"debug" toml:"debug"`

	// LogLevel accepts debug, info, warn, error or quiet.
	LogLevel string `yaml:"log-level" json:"log-level" toml:"log-level"`

	// LoggingToFile routes logs to rotating files under LogDir.
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file" toml:"logging-to-file"`
	LogDir        string `yaml:"log-dir" json:"log-dir" toml:"log-dir"`
	// LogsMaxTotalSizeMB bounds the size of one log file before rotation.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb" toml:"logs-max-total-size-mb"`

	// MetricsEnabled exposes /metrics. nil means default (true).
	MetricsEnabled *bool `yaml:"metrics-enabled,omitempty" json:"metrics-enabled,omitempty" toml:"metrics-enabled,omitempty"`

	TLS TLSConfig `yaml:"tls" json:"tls" toml:"tls"`

	// AnthropicAPIKey, when set, is the key clients must present.
	AnthropicAPIKey string `yaml:"anthropic-api-key" json:"-" toml:"anthropic-api-key"`

	Backend BackendConfig `yaml:"backend" json:"backend" toml:"backend"`
	Models  ModelsConfig  `yaml:"models" json:"models" toml:"models"`
	Boost   BoostConfig   `yaml:"boost" json:"boost" toml:"boost"`
}

// TLSConfig holds HTTPS server settings.
type TLSConfig struct {
	Enable bool   `yaml:"enable" json:"enable" toml:"enable"`
	Cert   string `yaml:"cert" json:"cert" toml:"cert"`
	Key    string `yaml:"key" json:"key" toml:"key"`
}

// BackendConfig describes the OpenAI-compatible execution backend.
type BackendConfig struct {
	BaseURL         string `yaml:"base-url" json:"base-url" toml:"base-url" validate:"required,url"`
	APIKey          string `yaml:"api-key" json:"-" toml:"api-key" validate:"required"`
	AzureAPIVersion string `yaml:"azure-api-version" json:"azure-api-version" toml:"azure-api-version"`
	// RequestTimeout is in seconds and applies to every outbound call.
	RequestTimeout int `yaml:"request-timeout" json:"request-timeout" toml:"request-timeout" validate:"gt=0"`
	// MaxRetries bounds retries of direct (non-boost) backend calls.
	MaxRetries int `yaml:"max-retries" json:"max-retries" toml:"max-retries" validate:"gte=0"`
	// RequestsPerSecond throttles outbound backend calls. 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests-per-second" json:"requests-per-second" toml:"requests-per-second" validate:"gte=0"`
	Burst             int     `yaml:"burst" json:"burst" toml:"burst" validate:"gte=0"`
	// Headers are sent verbatim on every backend request.
	Headers map[string]string `yaml:"headers" json:"headers" toml:"headers"`
}

// ModelsConfig maps tiers to backend model ids and bounds max_tokens.
type ModelsConfig struct {
	Big            string `yaml:"big" json:"big" toml:"big" validate:"required"`
	Middle         string `yaml:"middle" json:"middle" toml:"middle"`
	Small          string `yaml:"small" json:"small" toml:"small" validate:"required"`
	MaxTokensLimit int    `yaml:"max-tokens-limit" json:"max-tokens-limit" toml:"max-tokens-limit" validate:"gtefield=MinTokensLimit"`
	MinTokensLimit int    `yaml:"min-tokens-limit" json:"min-tokens-limit" toml:"min-tokens-limit" validate:"gte=1"`
}

// BoostConfig configures the boost model and the tier it serves.
type BoostConfig struct {
	// Enabled is one of NONE, BIG_MODEL, MIDDLE_MODEL, SMALL_MODEL.
	Enabled         string `yaml:"enabled" json:"enabled" toml:"enabled" validate:"oneof=NONE BIG_MODEL MIDDLE_MODEL SMALL_MODEL"`
	BaseURL         string `yaml:"base-url" json:"base-url" toml:"base-url" validate:"required_unless=Enabled NONE"`
	APIKey          string `yaml:"api-key" json:"-" toml:"api-key" validate:"required_unless=Enabled NONE"`
	Model           string `yaml:"model" json:"model" toml:"model" validate:"required_unless=Enabled NONE"`
	WrapperTemplate string `yaml:"wrapper-template" json:"wrapper-template" toml:"wrapper-template"`
	MaxIterations   int    `yaml:"max-iterations" json:"max-iterations" toml:"max-iterations" validate:"gte=0"`
}

var validate = validator.New()

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	return &Config{
		Host:               DefaultHost,
		Port:               DefaultPort,
		LogLevel:           "info",
		LogsMaxTotalSizeMB: 100,
		Backend: BackendConfig{
			BaseURL:        DefaultBackendBaseURL,
			RequestTimeout: DefaultRequestTimeout,
			MaxRetries:     DefaultMaxRetries,
		},
		Models: ModelsConfig{
			Big:            DefaultBigModel,
			Small:          DefaultSmallModel,
			MaxTokensLimit: DefaultMaxTokens,
			MinTokensLimit: DefaultMinTokens,
		},
		Boost: BoostConfig{
			Enabled:       TierNone,
			Model:         DefaultBoostModel,
			MaxIterations: DefaultMaxIterations,
		},
	}
}

// LoadConfig reads the file at path (YAML, or TOML when the extension is .toml),
// overlays the process environment and validates the result. An empty path
// loads defaults plus environment only.
func LoadConfig(path string) (*Config, error) {
	return load(path, os.LookupEnv, os.Environ())
}

func load(path string, lookup func(string) (string, bool), environ []string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err = unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyEnvironment(lookup, environ)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvironment overlays environment variables on cfg. lookup is usually
// os.LookupEnv and environ os.Environ(); both are parameters for tests.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool), environ []string) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("OPENAI_API_KEY", &c.Backend.APIKey)
	str("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	str("OPENAI_BASE_URL", &c.Backend.BaseURL)
	str("AZURE_API_VERSION", &c.Backend.AzureAPIVersion)
	str("HOST", &c.Host)
	num("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	num("MAX_TOKENS_LIMIT", &c.Models.MaxTokensLimit)
	num("MIN_TOKENS_LIMIT", &c.Models.MinTokensLimit)
	num("REQUEST_TIMEOUT", &c.Backend.RequestTimeout)
	num("MAX_RETRIES", &c.Backend.MaxRetries)
	str("BIG_MODEL", &c.Models.Big)
	str("MIDDLE_MODEL", &c.Models.Middle)
	str("SMALL_MODEL", &c.Models.Small)
	str("BOOST_BASE_URL", &c.Boost.BaseURL)
	str("BOOST_API_KEY", &c.Boost.APIKey)
	str("BOOST_MODEL", &c.Boost.Model)
	str("ENABLE_BOOST_SUPPORT", &c.Boost.Enabled)
	num("BOOST_MAX_ITERATIONS", &c.Boost.MaxIterations)
	if v, ok := lookup("BOOST_WRAPPER_TEMPLATE"); ok {
		c.Boost.WrapperTemplate = v
	}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, customHeaderPrefix) {
			continue
		}
		name := strings.ReplaceAll(strings.TrimPrefix(key, customHeaderPrefix), "_", "-")
		if name == "" {
			continue
		}
		if c.Backend.Headers == nil {
			c.Backend.Headers = make(map[string]string)
		}
		c.Backend.Headers[name] = value
	}
}

func (c *Config) normalize() {
	c.Boost.Enabled = strings.ToUpper(strings.TrimSpace(c.Boost.Enabled))
	if c.Boost.Enabled == "" {
		c.Boost.Enabled = TierNone
	}
	if c.Models.Middle == "" {
		c.Models.Middle = c.Models.Big
	}
	if c.Boost.MaxIterations <= 0 {
		c.Boost.MaxIterations = DefaultMaxIterations
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	c.Boost.BaseURL = strings.TrimRight(c.Boost.BaseURL, "/")
}

// Validate checks struct constraints and reports the first violation in
// terms of the configuration field name.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q (value %q)", fe.Namespace(), fe.Tag(), redactField(fe))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.TLS.Enable && (strings.TrimSpace(c.TLS.Cert) == "" || strings.TrimSpace(c.TLS.Key) == "") {
		return fmt.Errorf("invalid configuration: tls.cert and tls.key are required when tls is enabled")
	}
	return nil
}

func redactField(fe validator.FieldError) string {
	if strings.Contains(strings.ToLower(fe.Field()), "key") {
		return "***"
	}
	return fmt.Sprint(fe.Value())
}

// IsMetricsEnabled returns whether /metrics is exposed, defaulting to true.
func (c *Config) IsMetricsEnabled() bool {
	if c == nil || c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

// IsBoostEnabledForTier reports whether requests mapped to tier go through
// the boost loop.
func (c *Config) IsBoostEnabledForTier(tier string) bool {
	if c == nil || c.Boost.Enabled == TierNone {
		return false
	}
	return c.Boost.Enabled == tier
}

// ValidateClientAPIKey reports whether key may use the proxy. With no
// Anthropic key and no extra api-keys configured every client is accepted.
func (c *Config) ValidateClientAPIKey(key string) bool {
	if c == nil {
		return true
	}
	if c.AnthropicAPIKey == "" && len(c.APIKeys) == 0 {
		return true
	}
	if key == "" {
		return false
	}
	if c.AnthropicAPIKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(c.AnthropicAPIKey)) == 1 {
		return true
	}
	for _, candidate := range c.APIKeys {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			return true
		}
	}
	return false
}

// CustomHeaders returns a copy of the headers added to backend requests.
func (c *Config) CustomHeaders() map[string]string {
	out := make(map[string]string, len(c.Backend.Headers))
	for k, v := range c.Backend.Headers {
		out[k] = v
	}
	return out
}

// RequestTimeout returns the outbound timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeout) * time.Second
}
