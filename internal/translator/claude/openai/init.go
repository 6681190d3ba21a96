package openai

import (
	"github.com/router-for-me/BoostProxy/internal/interfaces"
	"github.com/router-for-me/BoostProxy/sdk/translator"
)

func init() {
	// Register Claude -> OpenAI translation for /v1/messages
	translator.Register(
		translator.FormatClaude,
		translator.FormatOpenAI,
		ConvertClaudeRequestToOpenAI,
		interfaces.TranslateResponse{
			Stream:     ConvertOpenAIResponseToClaude,
			NonStream:  ConvertOpenAIResponseToClaudeNonStream,
			TokenCount: ClaudeTokenCount,
		},
	)
}
