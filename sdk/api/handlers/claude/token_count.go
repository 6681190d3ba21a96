package claude

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	apperrors "github.com/router-for-me/BoostProxy/internal/errors"
	"github.com/router-for-me/BoostProxy/internal/translator/translator"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

// codecs caches one tokenizer per backend model.
var codecs sync.Map

func codecFor(model string) (tokenizer.Codec, error) {
	if cached, ok := codecs.Load(model); ok {
		return cached.(tokenizer.Codec), nil
	}

	var enc tokenizer.Codec
	var err error
	sanitized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(sanitized, "gpt-4o"), strings.HasPrefix(sanitized, "gpt-4.1"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(sanitized, "gpt-4"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(sanitized, "gpt-3.5"):
		enc, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		enc, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err != nil {
		return nil, err
	}
	actual, _ := codecs.LoadOrStore(model, enc)
	return actual.(tokenizer.Codec), nil
}

// requestText collects the countable text of a Claude request: system
// prompt, message content (text, tool inputs and tool results) and tool
// definitions.
func requestText(root gjson.Result) string {
	var b strings.Builder
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	var addContent func(content gjson.Result)
	addContent = func(content gjson.Result) {
		if content.Type == gjson.String {
			add(content.String())
			return
		}
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				add(block.Get("text").String())
			case "tool_use":
				add(block.Get("name").String())
				add(block.Get("input").Raw)
			case "tool_result":
				addContent(block.Get("content"))
			}
			return true
		})
	}

	addContent(root.Get("system"))
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		add(msg.Get("role").String())
		addContent(msg.Get("content"))
		return true
	})
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		add(tool.Get("name").String())
		add(tool.Get("description").String())
		add(tool.Get("input_schema").Raw)
		return true
	})
	return b.String()
}

// estimateTokens assumes about four characters per token.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(len(text)/4, 1)
}

// CountTokens returns the token count of a Claude request for the backend
// model it maps to.
func CountTokens(backendModel string, rawJSON []byte) int64 {
	text := requestText(gjson.ParseBytes(rawJSON))
	if text == "" {
		return 0
	}
	enc, err := codecFor(backendModel)
	if err != nil {
		log.Debugf("token count: no tokenizer for %s, estimating: %v", backendModel, err)
		return int64(estimateTokens(text))
	}
	_, tokens, err := enc.Encode(text)
	if err != nil {
		log.Debugf("token count: encode failed, estimating: %v", err)
		return int64(estimateTokens(text))
	}
	return int64(len(tokens))
}

// ClaudeCountTokens handles POST /v1/messages/count_tokens.
func (h *ClaudeCodeAPIHandler) ClaudeCountTokens(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.WriteErrorResponse(c, apperrors.BadRequest(fmt.Sprintf("Invalid request: %v", err), err))
		return
	}
	if !gjson.ValidBytes(rawJSON) || !gjson.ParseBytes(rawJSON).IsObject() {
		h.WriteErrorResponse(c, apperrors.BadRequest("Invalid request: body must be a JSON object", nil))
		return
	}
	model := gjson.GetBytes(rawJSON, "model").String()
	c.Set("model", model)

	backendModel := h.Clients().Converter.Mapper().MapModel(model)
	count := CountTokens(backendModel, rawJSON)
	c.Data(http.StatusOK, "application/json", []byte(translator.TokenCount("claude", "openai", c.Request.Context(), count)))
}
