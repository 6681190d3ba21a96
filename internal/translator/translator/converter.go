package translator

import (
	"context"
	"errors"

	"github.com/router-for-me/BoostProxy/internal/config"
	"github.com/router-for-me/BoostProxy/internal/registry"
	claudeopenai "github.com/router-for-me/BoostProxy/internal/translator/claude/openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	formatClaude = "claude"
	formatOpenAI = "openai"
)

// ErrInvalidRequest is returned for bodies that are not a JSON object.
var ErrInvalidRequest = errors.New("request body must be a JSON object")

// Converter adapts Claude requests for the configured backend: it maps the
// model onto a tier model, clamps max_tokens and translates both directions.
type Converter struct {
	mapper    registry.Mapper
	minTokens int64
	maxTokens int64
}

// NewConverter builds a converter from the models section of cfg.
func NewConverter(cfg *config.Config) *Converter {
	return &Converter{
		mapper:    registry.NewMapper(cfg),
		minTokens: int64(cfg.Models.MinTokensLimit),
		maxTokens: int64(cfg.Models.MaxTokensLimit),
	}
}

// Mapper exposes the model mapper.
func (c *Converter) Mapper() registry.Mapper { return c.mapper }

// ToBackend converts a Claude request into a chat-completions request and
// returns it with the backend model id.
func (c *Converter) ToBackend(claudeReq []byte) ([]byte, string, error) {
	if !gjson.ValidBytes(claudeReq) || !gjson.ParseBytes(claudeReq).IsObject() {
		return nil, "", ErrInvalidRequest
	}
	model := c.mapper.MapModel(gjson.GetBytes(claudeReq, "model").String())
	stream := gjson.GetBytes(claudeReq, "stream").Bool()

	out := Request(formatClaude, formatOpenAI, model, claudeReq, stream)
	if v := gjson.GetBytes(claudeReq, "max_tokens"); v.Exists() {
		out, _ = sjson.SetBytes(out, "max_tokens", c.clamp(v.Int()))
	}
	return out, model, nil
}

func (c *Converter) clamp(n int64) int64 {
	if c.minTokens > 0 && n < c.minTokens {
		n = c.minTokens
	}
	if c.maxTokens > 0 && n > c.maxTokens {
		n = c.maxTokens
	}
	return n
}

// ToClient converts a complete chat-completions response into a Claude message.
func (c *Converter) ToClient(ctx context.Context, backendResp, claudeReq, backendReq []byte) []byte {
	model := gjson.GetBytes(backendReq, "model").String()
	return []byte(ResponseNonStream(formatClaude, formatOpenAI, ctx, model, claudeReq, backendReq, backendResp, nil))
}

// NewStream starts a stateful stream conversion for one response.
func (c *Converter) NewStream(claudeReq, backendReq []byte) *Stream {
	return &Stream{
		model:      gjson.GetBytes(backendReq, "model").String(),
		claudeReq:  claudeReq,
		backendReq: backendReq,
	}
}

// Stream converts chat-completions stream lines into Claude SSE frames.
type Stream struct {
	model      string
	claudeReq  []byte
	backendReq []byte
	param      any
}

// Convert translates one upstream line.
func (s *Stream) Convert(ctx context.Context, line []byte) []string {
	return Response(formatClaude, formatOpenAI, ctx, s.model, s.claudeReq, s.backendReq, line, &s.param)
}

// Close emits the closing frames when the upstream ended without "[DONE]".
func (s *Stream) Close(ctx context.Context) []string {
	if claudeopenai.StreamFinished(s.param) {
		return nil
	}
	return s.Convert(ctx, []byte("[DONE]"))
}
