// Package registry maps client-facing Claude model names onto the backend
// models configured per tier and lists the names clients may use.
package registry

import "github.com/router-for-me/BoostProxy/internal/config"

// ModelInfo describes one client-facing model name.
type ModelInfo struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name,omitempty"`
	// Tier is the configuration tier the name resolves to.
	Tier string `json:"tier"`
	// Backend is the model the request is forwarded to.
	Backend string `json:"backend,omitempty"`
}

// GetClaudeModels returns the standard Claude model definitions
func GetClaudeModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:          "claude-haiku-4-5-20251001",
			Object:      "model",
			Created:     1759276800, // 2025-10-01
			OwnedBy:     "anthropic",
			Type:        "claude",
			DisplayName: "Claude 4.5 Haiku",
			Tier:        config.TierSmall,
		},
		{
			ID:          "claude-sonnet-4-5-20250929",
			Object:      "model",
			Created:     1759104000, // 2025-09-29
			OwnedBy:     "anthropic",
			Type:        "claude",
			DisplayName: "Claude 4.5 Sonnet",
			Tier:        config.TierMiddle,
		},
		{
			ID:          "claude-opus-4-5-20251101",
			Object:      "model",
			Created:     1761955200, // 2025-11-01
			OwnedBy:     "anthropic",
			Type:        "claude",
			DisplayName: "Claude 4.5 Opus",
			Tier:        config.TierBig,
		},
	}
}
