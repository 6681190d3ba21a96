package util

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestHoistToolResults_MovesResultAfterToolUse(t *testing.T) {
	in := []byte(`{
  "model":"claude-3-5-sonnet",
  "messages":[
    {"role":"user","content":"hi"},
    {"role":"assistant","content":[{"type":"tool_use","id":"call_a","name":"a","input":{}}]},
    {"role":"user","content":"text sent before the result"},
    {"role":"user","content":[{"type":"tool_result","tool_use_id":"call_a","content":"outA"}]},
    {"role":"user","content":"continue"}
  ]
}`)

	out := HoistToolResults(in)

	if got := gjson.GetBytes(out, "messages.#").Int(); got != 5 {
		t.Fatalf("expected 5 messages, got %d: %s", got, out)
	}
	if gjson.GetBytes(out, "messages.2.content.0.tool_use_id").String() != "call_a" {
		t.Fatalf("tool result not hoisted: %s", out)
	}
	if gjson.GetBytes(out, "messages.3.content").String() != "text sent before the result" {
		t.Fatalf("user text lost: %s", out)
	}
	if gjson.GetBytes(out, "messages.4.content").String() != "continue" {
		t.Fatalf("trailing message lost: %s", out)
	}
	if gjson.GetBytes(out, "model").String() != "claude-3-5-sonnet" {
		t.Fatalf("other fields must survive: %s", out)
	}
}

func TestHoistToolResults_MergesIntoExistingResultMessage(t *testing.T) {
	in := []byte(`{"messages":[
    {"role":"assistant","content":[
      {"type":"tool_use","id":"a","name":"x","input":{}},
      {"type":"tool_use","id":"b","name":"y","input":{}}
    ]},
    {"role":"user","content":[{"type":"tool_result","tool_use_id":"a","content":"A"}]},
    {"role":"user","content":[{"type":"text","text":"note"},{"type":"tool_result","tool_use_id":"b","content":"B"}]}
  ]}`)

	out := HoistToolResults(in)

	if got := gjson.GetBytes(out, "messages.1.content.#").Int(); got != 2 {
		t.Fatalf("expected both results in message 1: %s", out)
	}
	if gjson.GetBytes(out, "messages.1.content.1.tool_use_id").String() != "b" {
		t.Fatalf("result b not merged: %s", out)
	}
	if got := gjson.GetBytes(out, "messages.2.content.#").Int(); got != 1 || gjson.GetBytes(out, "messages.2.content.0.text").String() != "note" {
		t.Fatalf("text block should stay behind: %s", out)
	}
}

func TestHoistToolResults_Untouched(t *testing.T) {
	tests := map[string]string{
		"not json":       `not json`,
		"no messages":    `{"model":"m"}`,
		"already sorted": `{"messages":[{"role":"assistant","content":[{"type":"tool_use","id":"a","name":"x","input":{}}]},{"role":"user","content":[{"type":"tool_result","tool_use_id":"a","content":"A"}]}]}`,
		"no tool use":    `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if out := HoistToolResults([]byte(body)); string(out) != body {
				t.Errorf("body changed: %s", out)
			}
		})
	}
}
