// Package openai converts between the Claude messages protocol spoken by
// clients and the OpenAI chat-completions protocol spoken by the backend.
package openai

import (
	"bytes"
	"strings"

	"github.com/router-for-me/BoostProxy/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertClaudeRequestToOpenAI converts a Claude messages request into a
// chat-completions request for modelName.
//
// Parameters:
//   - modelName: The backend model to put in the request
//   - rawJSON: The raw JSON request data from the Claude API
//   - stream: A boolean indicating if the request is for a streaming response
//
// Returns:
//   - []byte: The chat-completions request body
func ConvertClaudeRequestToOpenAI(modelName string, rawJSON []byte, stream bool) []byte {
	rawJSON = util.HoistToolResults(bytes.Clone(rawJSON))
	root := gjson.ParseBytes(rawJSON)

	out := []byte(`{"model":"","messages":[]}`)
	out, _ = sjson.SetBytes(out, "model", modelName)

	if v := root.Get("max_tokens"); v.Exists() {
		out, _ = sjson.SetBytes(out, "max_tokens", v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.SetBytes(out, "temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.SetBytes(out, "top_p", v.Float())
	}
	if v := root.Get("stop_sequences"); v.IsArray() && len(v.Array()) > 0 {
		out, _ = sjson.SetRawBytes(out, "stop", []byte(v.Raw))
	}
	if stream {
		out, _ = sjson.SetBytes(out, "stream", true)
		out, _ = sjson.SetBytes(out, "stream_options.include_usage", true)
	}

	if system := systemText(root.Get("system")); system != "" {
		out = appendMessage(out, map[string]any{"role": "system", "content": system})
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		switch msg.Get("role").String() {
		case "assistant":
			out = appendAssistant(out, msg.Get("content"))
		case "user":
			out = appendUser(out, msg.Get("content"))
		default:
			log.Warnf("claude->openai: skipping message with role %q", msg.Get("role").String())
		}
		return true
	})

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		converted := []byte(`[]`)
		tools.ForEach(func(_, tool gjson.Result) bool {
			fn := []byte(`{"type":"function","function":{}}`)
			fn, _ = sjson.SetBytes(fn, "function.name", tool.Get("name").String())
			if d := tool.Get("description"); d.Exists() {
				fn, _ = sjson.SetBytes(fn, "function.description", d.String())
			}
			if schema := tool.Get("input_schema"); schema.IsObject() {
				fn, _ = sjson.SetRawBytes(fn, "function.parameters", []byte(schema.Raw))
			}
			converted, _ = sjson.SetRawBytes(converted, "-1", fn)
			return true
		})
		out, _ = sjson.SetRawBytes(out, "tools", converted)
	}

	if tc := root.Get("tool_choice"); tc.IsObject() {
		switch tc.Get("type").String() {
		case "auto":
			out, _ = sjson.SetBytes(out, "tool_choice", "auto")
		case "any":
			out, _ = sjson.SetBytes(out, "tool_choice", "required")
		case "none":
			out, _ = sjson.SetBytes(out, "tool_choice", "none")
		case "tool":
			out, _ = sjson.SetRawBytes(out, "tool_choice", []byte(`{"type":"function","function":{}}`))
			out, _ = sjson.SetBytes(out, "tool_choice.function.name", tc.Get("name").String())
		}
	}

	return out
}

// systemText flattens a string or text-block system prompt.
func systemText(system gjson.Result) string {
	if system.Type == gjson.String {
		return system.String()
	}
	if !system.IsArray() {
		return ""
	}
	var parts []string
	system.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n\n")
}

func appendMessage(out []byte, msg map[string]any) []byte {
	out, _ = sjson.SetBytes(out, "messages.-1", msg)
	return out
}

// appendUser emits tool results as tool messages first so they directly
// follow the assistant tool_calls turn, then the remaining user content.
func appendUser(out []byte, content gjson.Result) []byte {
	if content.Type == gjson.String {
		return appendMessage(out, map[string]any{"role": "user", "content": content.String()})
	}

	var parts []map[string]any
	hasImage := false
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"type": "text", "text": block.Get("text").String()})
		case "image":
			src := block.Get("source")
			if src.Get("type").String() == "base64" {
				url := "data:" + src.Get("media_type").String() + ";base64," + src.Get("data").String()
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
				hasImage = true
			}
		case "tool_result":
			out = appendMessage(out, map[string]any{
				"role":         "tool",
				"tool_call_id": block.Get("tool_use_id").String(),
				"content":      toolResultText(block.Get("content")),
			})
		}
		return true
	})

	switch {
	case len(parts) == 0:
		return out
	case hasImage:
		return appendMessage(out, map[string]any{"role": "user", "content": parts})
	default:
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			texts = append(texts, p["text"].(string))
		}
		return appendMessage(out, map[string]any{"role": "user", "content": strings.Join(texts, "\n")})
	}
}

func appendAssistant(out []byte, content gjson.Result) []byte {
	if content.Type == gjson.String {
		return appendMessage(out, map[string]any{"role": "assistant", "content": content.String()})
	}

	var texts []string
	var calls []map[string]any
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			texts = append(texts, block.Get("text").String())
		case "tool_use":
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			calls = append(calls, map[string]any{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").String(),
					"arguments": args,
				},
			})
		}
		return true
	})

	msg := map[string]any{"role": "assistant"}
	if len(texts) > 0 {
		msg["content"] = strings.Join(texts, "")
	} else {
		msg["content"] = nil
	}
	if len(calls) > 0 {
		msg["tool_calls"] = calls
	}
	if len(texts) == 0 && len(calls) == 0 {
		return out
	}
	return appendMessage(out, msg)
}

// toolResultText flattens tool_result content: strings as is, text blocks
// joined by newlines, anything else as raw JSON.
func toolResultText(content gjson.Result) string {
	switch {
	case !content.Exists():
		return ""
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var texts []string
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				texts = append(texts, block.Get("text").String())
			} else if block.Type == gjson.String {
				texts = append(texts, block.String())
			}
			return true
		})
		return strings.Join(texts, "\n")
	default:
		return content.Raw
	}
}
