package boost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const claudeTools = `[
  {"name":"read_file","description":"Read a file","input_schema":{"type":"object","properties":{"path":{"type":"string","description":"File path"},"limit":{"type":"integer","description":"Max lines"}},"required":["path"]}},
  {"name":"ping","description":"Ping"}
]`

const openAITools = `[
  {"type":"function","function":{"name":"read_file","description":"Read a file","parameters":{"type":"object","properties":{"path":{"type":"string","description":"File path"},"limit":{"type":"integer","description":"Max lines"}},"required":["path"]}}},
  {"type":"function","function":{"name":"ping","description":"Ping"}}
]`

func TestFormatTools(t *testing.T) {
	want := "- read_file: Read a file. Parameters: - path: string (required) - File path, - limit: integer (optional) - Max lines\n" +
		"- ping: Ping"

	assert.Equal(t, want, FormatTools([]byte(claudeTools)))
	assert.Equal(t, want, FormatTools([]byte(openAITools)))
}

func TestFormatTools_Empty(t *testing.T) {
	for _, in := range []string{"", "[]", "null", "{}"} {
		assert.Equal(t, NoToolsText, FormatTools([]byte(in)), "input %q", in)
	}
}

func TestFormatTools_Defaults(t *testing.T) {
	got := FormatTools([]byte(`[{"input_schema":{"properties":{"q":{}}}}]`))
	assert.Equal(t, "- unknown: No description. Parameters: - q: string (optional) - ", got)
}

func TestBuildPrompt_Default(t *testing.T) {
	got := BuildPrompt("", "list files", []byte(claudeTools), 2, []string{"first failed", "second failed"})

	assert.True(t, strings.HasPrefix(got, "You are a boost model assisting an auxiliary model."))
	assert.Contains(t, got, "Current ReAct Loop: 2\n")
	assert.Contains(t, got, "Previous Attempts: - first failed\n- second failed\n")
	assert.Contains(t, got, "User Request: list files\n")
	assert.Contains(t, got, "Available Tools:\n- read_file: Read a file.")
	assert.NotContains(t, got, "{tools_text}")
}

func TestBuildPrompt_NoAttemptsNoTools(t *testing.T) {
	got := BuildPrompt("   ", "hi", nil, 0, nil)
	assert.Contains(t, got, "Previous Attempts: None")
	assert.True(t, strings.HasSuffix(got, "Available Tools:\n"+NoToolsText))
}

func TestBuildPrompt_CustomTemplate(t *testing.T) {
	tpl := "[{loop_count}] {user_request} | {previous_attempts} | {tools_text}"
	got := BuildPrompt(tpl, "do it", []byte(`[{"name":"x","description":"y"}]`), 1, []string{"a"})
	assert.Equal(t, "[1] do it | - a | - x: y", got)
}
