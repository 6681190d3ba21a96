package util

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// claudeMessage is a Claude message split into its content blocks.
// blocks is nil when content is a plain string.
type claudeMessage struct {
	role    string
	raw     string
	blocks  []gjson.Result
	rebuilt bool
}

func newClaudeMessage(m gjson.Result) claudeMessage {
	msg := claudeMessage{role: strings.TrimSpace(m.Get("role").String()), raw: m.Raw}
	if content := m.Get("content"); content.IsArray() {
		msg.blocks = content.Array()
		if msg.blocks == nil {
			msg.blocks = []gjson.Result{}
		}
	}
	return msg
}

func (m *claudeMessage) toolUseIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, b := range m.blocks {
		if b.Get("type").String() != "tool_use" {
			continue
		}
		if id := strings.TrimSpace(b.Get("id").String()); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func (m *claudeMessage) toolResultsOnly() bool {
	if m.role != "user" || len(m.blocks) == 0 {
		return false
	}
	for _, b := range m.blocks {
		if b.Get("type").String() != "tool_result" {
			return false
		}
	}
	return true
}

// take removes the tool_result blocks answering ids and returns them.
func (m *claudeMessage) take(ids map[string]struct{}) []gjson.Result {
	var taken, kept []gjson.Result
	for _, b := range m.blocks {
		if b.Get("type").String() == "tool_result" {
			if _, ok := ids[strings.TrimSpace(b.Get("tool_use_id").String())]; ok {
				taken = append(taken, b)
				continue
			}
		}
		kept = append(kept, b)
	}
	if len(taken) > 0 {
		m.blocks = kept
		m.rebuilt = true
	}
	return taken
}

func (m *claudeMessage) render() string {
	if !m.rebuilt {
		return m.raw
	}
	content := blocksJSON(m.blocks)
	if m.raw == "" {
		return `{"role":"user","content":` + content + `}`
	}
	out, err := sjson.SetRaw(m.raw, "content", content)
	if err != nil {
		return m.raw
	}
	return out
}

func blocksJSON(blocks []gjson.Result) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.Raw
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// HoistToolResults moves tool_result blocks so that every assistant tool_use
// turn is directly followed by a user message holding its results. Clients
// sometimes interleave user text between the two, which chat-completions
// backends reject. User messages left empty by the move are dropped. The
// body is returned untouched when nothing needs to move.
func HoistToolResults(body []byte) []byte {
	list := gjson.GetBytes(body, "messages")
	if !list.IsArray() {
		return body
	}

	var msgs []claudeMessage
	list.ForEach(func(_, m gjson.Result) bool {
		msgs = append(msgs, newClaudeMessage(m))
		return true
	})

	changed := false
	for i := 0; i < len(msgs); i++ {
		if msgs[i].role != "assistant" {
			continue
		}
		ids := msgs[i].toolUseIDs()
		if len(ids) == 0 {
			continue
		}

		target := -1
		from := i + 1
		if from < len(msgs) && msgs[from].toolResultsOnly() {
			target = from
			from++
		}

		var moved []gjson.Result
		for j := from; j < len(msgs); j++ {
			if msgs[j].role == "user" && msgs[j].blocks != nil {
				moved = append(moved, msgs[j].take(ids)...)
			}
		}
		if len(moved) == 0 {
			continue
		}
		changed = true

		if target >= 0 {
			msgs[target].blocks = append(msgs[target].blocks, moved...)
			msgs[target].rebuilt = true
			continue
		}
		inserted := claudeMessage{role: "user", blocks: moved, rebuilt: true}
		msgs = append(msgs[:i+1], append([]claudeMessage{inserted}, msgs[i+1:]...)...)
	}
	if !changed {
		return body
	}

	parts := make([]string, 0, len(msgs))
	for i := range msgs {
		if msgs[i].rebuilt && len(msgs[i].blocks) == 0 {
			continue
		}
		parts = append(parts, msgs[i].render())
	}
	out, err := sjson.SetRawBytes(body, "messages", []byte("["+strings.Join(parts, ",")+"]"))
	if err != nil {
		return body
	}
	return out
}
