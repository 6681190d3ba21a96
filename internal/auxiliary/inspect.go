package auxiliary

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DetectToolUsage reports whether a chat-completions reply or stream chunk
// carries a non-empty tool_calls list. Missing or malformed paths count as
// no tool use.
func DetectToolUsage(resp []byte) bool {
	for _, path := range []string{
		"choices.0.message.tool_calls",
		"choices.0.delta.tool_calls",
		"delta.tool_calls",
	} {
		if v := gjson.GetBytes(resp, path); v.IsArray() && len(v.Array()) > 0 {
			return true
		}
	}
	return false
}

// ExtractFinalResponse returns the text content of the first choice, or ""
// when it is absent, empty or null.
func ExtractFinalResponse(resp []byte) string {
	msg := gjson.GetBytes(resp, "choices.0.message")
	if !msg.Exists() {
		return ""
	}
	if content := msg.Get("content"); content.Type == gjson.String && content.String() != "" {
		return content.String()
	}
	if msg.Get("tool_calls").Exists() {
		log.Warn("Auxiliary model returned only tool calls without content")
	}
	return ""
}
