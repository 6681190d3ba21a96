// Package translator is the string-keyed front of the SDK translator
// registry. Importing it registers every converter package.
package translator

import (
	"context"
	"strings"

	_ "github.com/router-for-me/BoostProxy/internal/translator/claude/openai"
	sdktranslator "github.com/router-for-me/BoostProxy/sdk/translator"
)

// Request converts rawJSON from one wire format to another.
func Request(from, to, modelName string, rawJSON []byte, stream bool) []byte {
	return sdktranslator.TranslateRequest(sdktranslator.Format(from), sdktranslator.Format(to), modelName, rawJSON, stream)
}

// NeedConvert reports whether a response translator exists between two
// distinct formats.
func NeedConvert(from, to string) bool {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" || from == to {
		return false
	}
	return sdktranslator.HasResponseTransformer(sdktranslator.Format(from), sdktranslator.Format(to))
}

// Response converts one upstream stream chunk from format to into events of
// format from. from is the client format.
func Response(from, to string, ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) []string {
	return sdktranslator.TranslateStream(ctx, sdktranslator.Format(to), sdktranslator.Format(from), modelName, originalRequestRawJSON, requestRawJSON, rawJSON, param)
}

// ResponseNonStream converts a complete upstream response into format from.
func ResponseNonStream(from, to string, ctx context.Context, modelName string, originalRequestRawJSON, requestRawJSON, rawJSON []byte, param *any) string {
	return sdktranslator.TranslateNonStream(ctx, sdktranslator.Format(to), sdktranslator.Format(from), modelName, originalRequestRawJSON, requestRawJSON, rawJSON, param)
}

// TokenCount renders count in format from.
func TokenCount(from, to string, ctx context.Context, count int64) string {
	return sdktranslator.TranslateTokenCount(ctx, sdktranslator.Format(to), sdktranslator.Format(from), count, nil)
}
