package util

import (
	"net/url"
	"strings"
)

// HideAPIKey masks the middle of a credential for logging.
func HideAPIKey(apiKey string) string {
	switch n := len(apiKey); {
	case n == 0:
		return ""
	case n > 8:
		return apiKey[:4] + "..." + apiKey[n-4:]
	case n > 4:
		return apiKey[:2] + "..." + apiKey[n-2:]
	default:
		return "***"
	}
}

// MaskSensitiveQuery hides credential-looking query parameters.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	changed := false
	for key, vals := range values {
		if !isCredentialKey(key) {
			continue
		}
		for i := range vals {
			vals[i] = HideAPIKey(vals[i])
		}
		changed = true
	}
	if !changed {
		return raw
	}
	return values.Encode()
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
