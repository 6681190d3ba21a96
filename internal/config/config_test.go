package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envFrom(m map[string]string) (func(string) (string, bool), []string) {
	environ := make([]string, 0, len(m))
	for k, v := range m {
		environ = append(environ, k+"="+v)
	}
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}, environ
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidFiles(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		body      string
		wantPort  int
		wantHost  string
		wantBoost string
	}{
		{
			name: "minimal yaml",
			file: "config.yaml",
			body: `
port: 8080
backend:
  api-key: sk-file
`,
			wantPort:  8080,
			wantHost:  DefaultHost,
			wantBoost: TierNone,
		},
		{
			name: "yaml with boost",
			file: "config.yaml",
			body: `
host: 127.0.0.1
port: 9000
backend:
  api-key: sk-file
boost:
  enabled: big_model
  base-url: https://boost.example/v1/
  api-key: bk
`,
			wantPort:  9000,
			wantHost:  "127.0.0.1",
			wantBoost: TierBig,
		},
		{
			name: "toml",
			file: "config.toml",
			body: `
port = 7000
proxy-url = "socks5://127.0.0.1:1080"

[backend]
api-key = "sk-file"

[boost]
enabled = "SMALL_MODEL"
base-url = "https://boost.example/v1"
api-key = "bk"
`,
			wantPort:  7000,
			wantHost:  DefaultHost,
			wantBoost: TierSmall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			lookup, environ := envFrom(nil)
			cfg, err := load(path, lookup, environ)
			if err != nil {
				t.Fatalf("load() error = %v", err)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Port, tt.wantPort)
			}
			if cfg.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.Boost.Enabled != tt.wantBoost {
				t.Errorf("Boost.Enabled = %q, want %q", cfg.Boost.Enabled, tt.wantBoost)
			}
			if strings.HasSuffix(cfg.Boost.BaseURL, "/") {
				t.Errorf("Boost.BaseURL keeps trailing slash: %q", cfg.Boost.BaseURL)
			}
		})
	}
}

func TestLoad_TOMLProxyURL(t *testing.T) {
	path := writeConfig(t, "config.toml", `
proxy-url = "socks5://127.0.0.1:1080"
[backend]
api-key = "sk"
`)
	lookup, environ := envFrom(nil)
	cfg, err := load(path, lookup, environ)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	lookup, environ := envFrom(map[string]string{
		"OPENAI_API_KEY":           "sk-env",
		"OPENAI_BASE_URL":          "https://backend.example/v1/",
		"PORT":                     "9100",
		"BIG_MODEL":                "gpt-big",
		"SMALL_MODEL":              "gpt-small",
		"ENABLE_BOOST_SUPPORT":     "MIDDLE_MODEL",
		"BOOST_BASE_URL":           "https://boost.example/v1",
		"BOOST_API_KEY":            "bk",
		"BOOST_MAX_ITERATIONS":     "5",
		"CUSTOM_HEADER_X_TEAM":     "infra",
		"CUSTOM_HEADER_USER_AGENT": "boostproxy",
	})
	cfg, err := load("", lookup, environ)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Backend.APIKey != "sk-env" {
		t.Errorf("Backend.APIKey = %q", cfg.Backend.APIKey)
	}
	if cfg.Backend.BaseURL != "https://backend.example/v1" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.Models.Middle != "gpt-big" {
		t.Errorf("Models.Middle = %q, want it to default to the big model", cfg.Models.Middle)
	}
	if cfg.Boost.MaxIterations != 5 {
		t.Errorf("Boost.MaxIterations = %d", cfg.Boost.MaxIterations)
	}
	headers := cfg.CustomHeaders()
	if headers["X-TEAM"] != "infra" || headers["USER-AGENT"] != "boostproxy" {
		t.Errorf("CustomHeaders() = %v", headers)
	}
	if !cfg.IsBoostEnabledForTier(TierMiddle) || cfg.IsBoostEnabledForTier(TierBig) {
		t.Errorf("IsBoostEnabledForTier mismatch for %q", cfg.Boost.Enabled)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantSub string
	}{
		{
			name:    "missing backend key",
			env:     map[string]string{},
			wantSub: "APIKey",
		},
		{
			name: "unknown boost tier",
			env: map[string]string{
				"OPENAI_API_KEY":       "sk",
				"ENABLE_BOOST_SUPPORT": "HUGE_MODEL",
			},
			wantSub: "Enabled",
		},
		{
			name: "boost enabled without url",
			env: map[string]string{
				"OPENAI_API_KEY":       "sk",
				"ENABLE_BOOST_SUPPORT": "BIG_MODEL",
				"BOOST_API_KEY":        "bk",
			},
			wantSub: "BaseURL",
		},
		{
			name: "boost enabled without key",
			env: map[string]string{
				"OPENAI_API_KEY":       "sk",
				"ENABLE_BOOST_SUPPORT": "BIG_MODEL",
				"BOOST_BASE_URL":       "https://boost.example",
			},
			wantSub: "Boost.APIKey",
		},
		{
			name: "token limits inverted",
			env: map[string]string{
				"OPENAI_API_KEY":   "sk",
				"MAX_TOKENS_LIMIT": "10",
				"MIN_TOKENS_LIMIT": "100",
			},
			wantSub: "MaxTokensLimit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup, environ := envFrom(tt.env)
			_, err := load("", lookup, environ)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateClientAPIKey(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		key  string
		want bool
	}{
		{name: "nothing configured accepts all", cfg: &Config{}, key: "", want: true},
		{name: "anthropic key match", cfg: &Config{AnthropicAPIKey: "secret"}, key: "secret", want: true},
		{name: "anthropic key mismatch", cfg: &Config{AnthropicAPIKey: "secret"}, key: "nope", want: false},
		{name: "empty key rejected", cfg: &Config{AnthropicAPIKey: "secret"}, key: "", want: false},
		{name: "extra key accepted", cfg: &Config{SDKConfig: SDKConfig{APIKeys: []string{"a", "b"}}}, key: "b", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ValidateClientAPIKey(tt.key); got != tt.want {
				t.Errorf("ValidateClientAPIKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestIsBoostEnabledForTier_None(t *testing.T) {
	cfg := Default()
	for _, tier := range []string{TierBig, TierMiddle, TierSmall, TierNone} {
		if cfg.IsBoostEnabledForTier(tier) {
			t.Errorf("tier %s enabled with boost NONE", tier)
		}
	}
}
