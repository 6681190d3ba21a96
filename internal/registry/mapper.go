package registry

import (
	"strings"

	"github.com/router-for-me/BoostProxy/internal/config"
)

// passthroughPrefixes name backend-native models that are forwarded as is.
var passthroughPrefixes = []string{"gpt-", "o1-", "ep-", "doubao-", "deepseek-"}

// Mapper resolves client model names against the configured tier models.
type Mapper struct {
	Big    string
	Middle string
	Small  string
}

// NewMapper builds a mapper from the models section of cfg.
func NewMapper(cfg *config.Config) Mapper {
	return Mapper{Big: cfg.Models.Big, Middle: cfg.Models.Middle, Small: cfg.Models.Small}
}

// MapModel returns the backend model for name. Backend-native names pass
// through; haiku, sonnet and opus pick the small, middle and big model; any
// other name uses the big model.
func (m Mapper) MapModel(name string) string {
	for _, p := range passthroughPrefixes {
		if strings.HasPrefix(name, p) {
			return name
		}
	}
	switch m.keywordTier(name) {
	case config.TierSmall:
		return m.Small
	case config.TierMiddle:
		return m.Middle
	default:
		return m.Big
	}
}

// Tier returns the configuration tier of name. Names without a Claude
// family keyword are matched against the configured models, then default to
// the big tier.
func (m Mapper) Tier(name string) string {
	if tier := m.keywordTier(name); tier != "" {
		return tier
	}
	switch name {
	case m.Small:
		return config.TierSmall
	case m.Middle:
		return config.TierMiddle
	default:
		return config.TierBig
	}
}

func (m Mapper) keywordTier(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "haiku"):
		return config.TierSmall
	case strings.Contains(lower, "sonnet"):
		return config.TierMiddle
	case strings.Contains(lower, "opus"):
		return config.TierBig
	}
	return ""
}

// Models returns the Claude catalogue with each entry's backend model filled in.
func (m Mapper) Models() []*ModelInfo {
	models := GetClaudeModels()
	for _, info := range models {
		info.Backend = m.MapModel(info.ID)
	}
	return models
}
