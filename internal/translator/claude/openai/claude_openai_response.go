package openai

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var dataTag = []byte("data:")

// streamState carries the Claude event sequence across upstream chunks.
type streamState struct {
	started      bool
	done         bool
	messageID    string
	nextIndex    int
	textIndex    int
	tools        map[int]*toolBlock
	finishReason string
	inputTokens  int64
	outputTokens int64
	cachedTokens int64
}

type toolBlock struct {
	index int
	id    string
	name  string
	open  bool
}

// ConvertOpenAIResponseToClaude converts one chat-completions stream chunk
// into Claude SSE events. Each returned string is a complete
// "event: ...\ndata: ...\n\n" frame. The "[DONE]" chunk closes open content
// blocks and emits message_delta and message_stop.
//
// Parameters:
//   - ctx: The context for the request
//   - modelName: The name of the model being used for the response
//   - originalRequestRawJSON: The original Claude request
//   - requestRawJSON: The translated chat-completions request
//   - rawJSON: One upstream stream line, with or without the "data:" prefix
//   - param: A pointer to a parameter object for maintaining state between calls
//
// Returns:
//   - []string: Claude SSE frames, possibly none
func ConvertOpenAIResponseToClaude(_ context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &streamState{textIndex: -1, tools: make(map[int]*toolBlock)}
	}
	st := (*param).(*streamState)

	rawJSON = bytes.TrimSpace(rawJSON)
	if bytes.HasPrefix(rawJSON, dataTag) {
		rawJSON = bytes.TrimSpace(rawJSON[len(dataTag):])
	}
	if len(rawJSON) == 0 || st.done {
		return nil
	}

	var out []string
	if !st.started {
		out = append(out, st.messageStart(gjson.GetBytes(rawJSON, "id").String(), responseModel(modelName, originalRequestRawJSON))...)
	}

	if bytes.Equal(rawJSON, []byte("[DONE]")) {
		return append(out, st.finish()...)
	}
	if !gjson.ValidBytes(rawJSON) {
		return out
	}
	root := gjson.ParseBytes(rawJSON)

	if usage := root.Get("usage"); usage.IsObject() {
		st.inputTokens = usage.Get("prompt_tokens").Int()
		st.outputTokens = usage.Get("completion_tokens").Int()
		st.cachedTokens = usage.Get("prompt_tokens_details.cached_tokens").Int()
	}

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return out
	}
	delta := choice.Get("delta")

	if text := delta.Get("content"); text.Type == gjson.String && text.String() != "" {
		if st.textIndex < 0 {
			st.textIndex = st.nextIndex
			st.nextIndex++
			out = append(out, sseEvent("content_block_start", fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, st.textIndex)))
		}
		ev := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`)
		ev, _ = sjson.SetBytes(ev, "index", st.textIndex)
		ev, _ = sjson.SetBytes(ev, "delta.text", text.String())
		out = append(out, sseEvent("content_block_delta", string(ev)))
	}

	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		idx := int(tc.Get("index").Int())
		tb, ok := st.tools[idx]
		if !ok {
			if st.textIndex >= 0 {
				out = append(out, st.stopBlock(st.textIndex))
				st.textIndex = -1
			}
			tb = &toolBlock{index: st.nextIndex, id: tc.Get("id").String(), name: tc.Get("function.name").String()}
			if tb.id == "" {
				tb.id = "toolu_" + uuid.NewString()
			}
			st.nextIndex++
			st.tools[idx] = tb

			start := []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"","name":"","input":{}}}`)
			start, _ = sjson.SetBytes(start, "index", tb.index)
			start, _ = sjson.SetBytes(start, "content_block.id", tb.id)
			start, _ = sjson.SetBytes(start, "content_block.name", tb.name)
			out = append(out, sseEvent("content_block_start", string(start)))
			tb.open = true
		}
		if args := tc.Get("function.arguments").String(); args != "" {
			ev := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":""}}`)
			ev, _ = sjson.SetBytes(ev, "index", tb.index)
			ev, _ = sjson.SetBytes(ev, "delta.partial_json", args)
			out = append(out, sseEvent("content_block_delta", string(ev)))
		}
		return true
	})

	if fr := choice.Get("finish_reason").String(); fr != "" {
		st.finishReason = fr
	}
	return out
}

func (st *streamState) messageStart(id, model string) []string {
	st.started = true
	st.messageID = id
	if st.messageID == "" {
		st.messageID = "msg_" + uuid.NewString()
	}
	start := []byte(`{"type":"message_start","message":{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`)
	start, _ = sjson.SetBytes(start, "message.id", st.messageID)
	start, _ = sjson.SetBytes(start, "message.model", model)
	return []string{
		sseEvent("message_start", string(start)),
		sseEvent("ping", `{"type":"ping"}`),
	}
}

func (st *streamState) stopBlock(index int) string {
	return sseEvent("content_block_stop", fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index))
}

func (st *streamState) finish() []string {
	st.done = true

	open := make([]int, 0, len(st.tools)+1)
	if st.textIndex >= 0 {
		open = append(open, st.textIndex)
	}
	for _, tb := range st.tools {
		if tb.open {
			open = append(open, tb.index)
			tb.open = false
		}
	}
	sort.Ints(open)

	out := make([]string, 0, len(open)+2)
	for _, idx := range open {
		out = append(out, st.stopBlock(idx))
	}

	stop := stopReason(st.finishReason)
	if len(st.tools) > 0 && stop == "end_turn" {
		stop = "tool_use"
	}
	delta := []byte(`{"type":"message_delta","delta":{"stop_reason":"","stop_sequence":null},"usage":{"input_tokens":0,"output_tokens":0}}`)
	delta, _ = sjson.SetBytes(delta, "delta.stop_reason", stop)
	delta, _ = sjson.SetBytes(delta, "usage.input_tokens", st.inputTokens)
	delta, _ = sjson.SetBytes(delta, "usage.output_tokens", st.outputTokens)
	if st.cachedTokens > 0 {
		delta, _ = sjson.SetBytes(delta, "usage.cache_read_input_tokens", st.cachedTokens)
	}
	out = append(out, sseEvent("message_delta", string(delta)))
	out = append(out, sseEvent("message_stop", `{"type":"message_stop"}`))
	return out
}

// StreamFinished reports whether param has seen the closing "[DONE]" chunk.
func StreamFinished(param any) bool {
	st, ok := param.(*streamState)
	return ok && st.done
}

// ConvertOpenAIResponseToClaudeNonStream converts a complete chat-completions
// response into a Claude message.
//
// Parameters:
//   - ctx: The context for the request
//   - modelName: The name of the model being used for the response
//   - originalRequestRawJSON: The original Claude request
//   - requestRawJSON: The translated chat-completions request
//   - rawJSON: The chat-completions response body
//   - param: Unused
//
// Returns:
//   - string: A Claude message JSON document
func ConvertOpenAIResponseToClaudeNonStream(_ context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, _ *any) string {
	root := gjson.ParseBytes(rawJSON)

	out := []byte(`{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}`)
	id := root.Get("id").String()
	if id == "" {
		id = "msg_" + uuid.NewString()
	}
	out, _ = sjson.SetBytes(out, "id", id)
	out, _ = sjson.SetBytes(out, "model", responseModel(modelName, originalRequestRawJSON))

	msg := root.Get("choices.0.message")
	if text := msg.Get("content"); text.Type == gjson.String && text.String() != "" {
		out, _ = sjson.SetBytes(out, "content.-1", map[string]any{"type": "text", "text": text.String()})
	}
	hasTools := false
	msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		if tc.Get("type").Exists() && tc.Get("type").String() != "function" {
			return true
		}
		hasTools = true
		block := []byte(`{"type":"tool_use","id":"","name":"","input":{}}`)
		block, _ = sjson.SetBytes(block, "id", tc.Get("id").String())
		block, _ = sjson.SetBytes(block, "name", tc.Get("function.name").String())
		block, _ = sjson.SetRawBytes(block, "input", toolInput(tc.Get("function.arguments").String()))
		out, _ = sjson.SetRawBytes(out, "content.-1", block)
		return true
	})
	if !gjson.GetBytes(out, "content.0").Exists() {
		out, _ = sjson.SetRawBytes(out, "content.-1", []byte(`{"type":"text","text":""}`))
	}

	stop := stopReason(root.Get("choices.0.finish_reason").String())
	if hasTools && stop == "end_turn" {
		stop = "tool_use"
	}
	out, _ = sjson.SetBytes(out, "stop_reason", stop)

	usage := root.Get("usage")
	out, _ = sjson.SetBytes(out, "usage.input_tokens", usage.Get("prompt_tokens").Int())
	out, _ = sjson.SetBytes(out, "usage.output_tokens", usage.Get("completion_tokens").Int())
	if cached := usage.Get("prompt_tokens_details.cached_tokens").Int(); cached > 0 {
		out, _ = sjson.SetBytes(out, "usage.cache_read_input_tokens", cached)
	}
	return string(out)
}

// ClaudeTokenCount returns the token count in Claude format.
func ClaudeTokenCount(_ context.Context, count int64) string {
	return fmt.Sprintf(`{"input_tokens":%d}`, count)
}

// toolInput parses tool arguments; unparseable text is kept under raw_arguments.
func toolInput(args string) []byte {
	if args == "" {
		return []byte(`{}`)
	}
	if parsed := gjson.Parse(args); gjson.Valid(args) && parsed.IsObject() {
		return []byte(parsed.Raw)
	}
	b, _ := sjson.SetBytes([]byte(`{}`), "raw_arguments", args)
	return b
}

func stopReason(finish string) string {
	switch finish {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// responseModel reports the model the client asked for, falling back to
// the backend model.
func responseModel(modelName string, originalRequestRawJSON []byte) string {
	if m := gjson.GetBytes(originalRequestRawJSON, "model").String(); m != "" {
		return m
	}
	return modelName
}

func sseEvent(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}
