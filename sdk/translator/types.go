// Package translator holds the registry of wire-format converters. Converter
// packages register themselves from init; callers translate through the
// package-level helpers or an explicit Registry.
package translator

import "context"

// Format identifies a wire protocol.
type Format string

const (
	// FormatClaude is the Anthropic messages protocol spoken by clients.
	FormatClaude Format = "claude"
	// FormatOpenAI is the chat-completions protocol spoken by the backend.
	FormatOpenAI Format = "openai"
)

// String returns the format name.
func (f Format) String() string { return string(f) }

// RequestTransform converts a request body for the target model.
type RequestTransform func(model string, rawJSON []byte, stream bool) []byte

// ResponseStreamTransform converts one upstream stream chunk into zero or
// more client events. param carries converter state across chunks.
type ResponseStreamTransform func(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string

// ResponseNonStreamTransform converts a complete upstream response.
type ResponseNonStreamTransform func(ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string

// ResponseTokenCountTransform renders a token count in the client format.
type ResponseTokenCountTransform func(ctx context.Context, count int64) string

// ResponseTransform groups the response converters of one direction.
type ResponseTransform struct {
	Stream     ResponseStreamTransform
	NonStream  ResponseNonStreamTransform
	TokenCount ResponseTokenCountTransform
}
