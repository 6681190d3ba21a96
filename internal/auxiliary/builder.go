// Package auxiliary builds the chat-completions request sent to the
// execution model after the boost model produced guidance, and inspects the
// execution model's reply for tool calls.
package auxiliary

import (
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const systemTemplate = `You are an AI assistant helping with a user request. The boost model has provided the following analysis and guidance:

ANALYSIS:
%s

GUIDANCE:
%s

Please follow the guidance to complete the user's request. Use the available tools as instructed.`

// Request is the typed form of the fields the builder reads. Nil pointers
// mean the parameter was absent.
type Request struct {
	Model       string
	Messages    []json.RawMessage
	Stream      bool
	MaxTokens   *int64
	Temperature *float64
}

// SystemPrompt returns the synthetic system message text.
func SystemPrompt(analysis, guidance string) string {
	return fmt.Sprintf(systemTemplate, analysis, guidance)
}

// BuildRequest reads model, messages, stream, max_tokens and temperature
// from the chat-completions body original and delegates to BuildRequestFrom.
func BuildRequest(original []byte, analysis, guidance string, tools []byte) ([]byte, error) {
	if !gjson.ValidBytes(original) {
		return nil, errors.New("auxiliary: original request is not valid JSON")
	}
	root := gjson.ParseBytes(original)

	req := Request{
		Model:  root.Get("model").String(),
		Stream: root.Get("stream").Bool(),
	}
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		req.Messages = append(req.Messages, json.RawMessage(msg.Raw))
		return true
	})
	if v := root.Get("max_tokens"); v.Exists() && v.Type != gjson.Null {
		n := v.Int()
		req.MaxTokens = &n
	}
	if v := root.Get("temperature"); v.Exists() && v.Type != gjson.Null {
		f := v.Float()
		req.Temperature = &f
	}
	return BuildRequestFrom(req, analysis, guidance, tools)
}

// BuildRequestFrom produces the auxiliary request: every system message is
// replaced by one synthetic system message carrying analysis and guidance,
// the remaining messages keep their order, tools are attached with
// tool_choice "auto", and max_tokens/temperature are copied only when set.
// Streaming requests ask for a usage chunk.
func BuildRequestFrom(req Request, analysis, guidance string, tools []byte) ([]byte, error) {
	out := []byte(`{}`)
	var err error

	if out, err = sjson.SetBytes(out, "model", req.Model); err != nil {
		return nil, err
	}

	system, _ := json.Marshal(map[string]string{"role": "system", "content": SystemPrompt(analysis, guidance)})
	messages := []byte(`[]`)
	if messages, err = sjson.SetRawBytes(messages, "-1", system); err != nil {
		return nil, err
	}
	for _, msg := range req.Messages {
		if gjson.GetBytes(msg, "role").String() == "system" {
			continue
		}
		if messages, err = sjson.SetRawBytes(messages, "-1", msg); err != nil {
			return nil, err
		}
	}
	if out, err = sjson.SetRawBytes(out, "messages", messages); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "stream", req.Stream); err != nil {
		return nil, err
	}
	if req.Stream {
		if out, err = sjson.SetBytes(out, "stream_options.include_usage", true); err != nil {
			return nil, err
		}
	}

	toolCount := 0
	if t := gjson.ParseBytes(tools); t.IsArray() && len(t.Array()) > 0 {
		toolCount = len(t.Array())
		if out, err = sjson.SetRawBytes(out, "tools", []byte(t.Raw)); err != nil {
			return nil, err
		}
		if out, err = sjson.SetBytes(out, "tool_choice", "auto"); err != nil {
			return nil, err
		}
	}

	if req.MaxTokens != nil {
		if out, err = sjson.SetBytes(out, "max_tokens", *req.MaxTokens); err != nil {
			return nil, err
		}
	}
	if req.Temperature != nil {
		if out, err = sjson.SetBytes(out, "temperature", *req.Temperature); err != nil {
			return nil, err
		}
	}

	log.Infof("Built auxiliary request with %d tools", toolCount)
	return out, nil
}
