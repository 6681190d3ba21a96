// Package config provides configuration management for the BoostProxy server.
// It loads YAML or TOML configuration files, overlays the process environment,
// validates the result and exposes typed accessors for the boost loop.
package config

// SDKConfig holds the settings shared with the HTTP handler layer.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// http, https and socks5 schemes are supported.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url" toml:"proxy-url"`

	// RequestLog enables debug logging of redacted request and response bodies.
	RequestLog bool `yaml:"request-log" json:"request-log" toml:"request-log"`

	// APIKeys lists additional keys accepted from clients next to the Anthropic key.
	APIKeys []string `yaml:"api-keys" json:"api-keys" toml:"api-keys"`

	// Streaming configures server-side streaming behavior.
	Streaming StreamingConfig `yaml:"streaming" json:"streaming" toml:"streaming"`
}

// StreamingConfig holds server streaming behavior configuration.
type StreamingConfig struct {
	// KeepAliveSeconds controls how often the server emits SSE ping events while
	// waiting on the backend. nil means default (15). <= 0 disables keep-alives.
	KeepAliveSeconds *int `yaml:"keepalive-seconds,omitempty" json:"keepalive-seconds,omitempty" toml:"keepalive-seconds,omitempty"`
}

// KeepAliveInterval returns the keep-alive period in seconds, defaulting to 15.
func (s *StreamingConfig) KeepAliveInterval() int {
	if s == nil || s.KeepAliveSeconds == nil {
		return 15
	}
	if *s.KeepAliveSeconds < 0 {
		return 0
	}
	return *s.KeepAliveSeconds
}
