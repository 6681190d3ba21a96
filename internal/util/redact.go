package util

import (
	"encoding/json"
	"net/http"
	"strings"
)

const redactedValue = "[REDACTED]"

// credentialHeaders are the headers that carry client or backend keys:
// x-api-key from Claude clients, api-key for Azure, bearer auth otherwise.
var credentialHeaders = []string{"Authorization", "X-Api-Key", "Api-Key", "Proxy-Authorization", "Cookie"}

// RedactHeaders returns a copy of h with credential headers masked by
// HideAPIKey. Bearer prefixes are kept so the auth scheme stays visible.
func RedactHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, name := range credentialHeaders {
		values := out.Values(name)
		if len(values) == 0 {
			continue
		}
		masked := make([]string, len(values))
		for i, v := range values {
			if token := BearerToken(v); token != "" {
				masked[i] = "Bearer " + HideAPIKey(token)
				continue
			}
			masked[i] = HideAPIKey(v)
		}
		out[http.CanonicalHeaderKey(name)] = masked
	}
	return out
}

// RedactSensitiveJSON replaces credential fields of a request or response
// body before it reaches the debug log. Invalid JSON is returned unchanged.
func RedactSensitiveJSON(body []byte) []byte {
	trim := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trim, "{") && !strings.HasPrefix(trim, "[") {
		return body
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	out, err := json.Marshal(redactValue(v))
	if err != nil {
		return body
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if isCredentialKey(k) {
				t[k] = redactedValue
				continue
			}
			t[k] = redactValue(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactValue(t[i])
		}
		return t
	default:
		return v
	}
}

// isCredentialKey matches key names after folding case and treating "-" as
// "_", so x-api-key, api-key, ANTHROPIC_API_KEY and apiKey all match.
// Token counters such as max_tokens and input_tokens are kept.
func isCredentialKey(key string) bool {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	if strings.HasSuffix(k, "tokens") || strings.HasSuffix(k, "tokens_limit") {
		return false
	}
	for _, marker := range []string{"authorization", "api_key", "apikey", "secret", "password", "cookie", "token"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}
