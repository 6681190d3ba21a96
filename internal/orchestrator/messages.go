package orchestrator

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return strings.TrimSpace(content.String())
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "text" {
			return true
		}
		if t := strings.TrimSpace(block.Get("text").String()); t != "" {
			parts = append(parts, t)
		}
		return true
	})
	return strings.Join(parts, " ")
}

// shortID derives a diagnostic id from text. Ids are not unique.
func shortID(prefix, text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%s-%d", prefix, h.Sum32()%1_000_000)
}

func textMessage(id, model, text string) []byte {
	out := []byte(`{"id":"","type":"message","role":"assistant","content":[{"type":"text","text":""}],"model":"","stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}`)
	out, _ = sjson.SetBytes(out, "id", id)
	out, _ = sjson.SetBytes(out, "content.0.text", text)
	out, _ = sjson.SetBytes(out, "model", model)
	return out
}

func summaryMessage(claudeReq []byte, text string) []byte {
	return textMessage(shortID("boost", text), gjson.GetBytes(claudeReq, "model").String(), text)
}

func errorMessage(claudeReq []byte, text string) []byte {
	model := gjson.GetBytes(claudeReq, "model").String()
	if model == "" {
		model = "unknown"
	}
	return textMessage(shortID("error", text), model, "Error: "+text)
}

// MessageEvents renders a complete Claude message as the SSE frames a
// streaming client expects.
func MessageEvents(msg []byte) []string {
	root := gjson.ParseBytes(msg)

	start := []byte(`{"type":"message_start","message":{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`)
	start, _ = sjson.SetBytes(start, "message.id", root.Get("id").String())
	start, _ = sjson.SetBytes(start, "message.model", root.Get("model").String())
	if u := root.Get("usage.input_tokens"); u.Exists() {
		start, _ = sjson.SetBytes(start, "message.usage.input_tokens", u.Int())
	}

	frames := []string{sseFrame("message_start", string(start))}
	root.Get("content").ForEach(func(idx, block gjson.Result) bool {
		i := idx.Int()
		switch block.Get("type").String() {
		case "text":
			frames = append(frames, sseFrame("content_block_start", fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, i)))
			delta := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`)
			delta, _ = sjson.SetBytes(delta, "index", i)
			delta, _ = sjson.SetBytes(delta, "delta.text", block.Get("text").String())
			frames = append(frames, sseFrame("content_block_delta", string(delta)))
		case "tool_use":
			startBlock := []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"","name":"","input":{}}}`)
			startBlock, _ = sjson.SetBytes(startBlock, "index", i)
			startBlock, _ = sjson.SetBytes(startBlock, "content_block.id", block.Get("id").String())
			startBlock, _ = sjson.SetBytes(startBlock, "content_block.name", block.Get("name").String())
			frames = append(frames, sseFrame("content_block_start", string(startBlock)))
			input := block.Get("input").Raw
			if input == "" {
				input = "{}"
			}
			delta := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":""}}`)
			delta, _ = sjson.SetBytes(delta, "index", i)
			delta, _ = sjson.SetBytes(delta, "delta.partial_json", input)
			frames = append(frames, sseFrame("content_block_delta", string(delta)))
		default:
			return true
		}
		frames = append(frames, sseFrame("content_block_stop", fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, i)))
		return true
	})

	stop := root.Get("stop_reason").String()
	if stop == "" {
		stop = "end_turn"
	}
	delta := []byte(`{"type":"message_delta","delta":{"stop_reason":"","stop_sequence":null},"usage":{"output_tokens":0}}`)
	delta, _ = sjson.SetBytes(delta, "delta.stop_reason", stop)
	delta, _ = sjson.SetBytes(delta, "usage.output_tokens", root.Get("usage.output_tokens").Int())
	frames = append(frames,
		sseFrame("message_delta", string(delta)),
		sseFrame("message_stop", `{"type":"message_stop"}`),
	)
	return frames
}

func sseFrame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}
