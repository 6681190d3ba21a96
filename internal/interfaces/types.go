// Package interfaces provides type aliases for translator functions so
// converter packages do not depend on the SDK translator names directly.
package interfaces

import (
	sdktranslator "github.com/router-for-me/BoostProxy/sdk/translator"
)

// Backwards compatible aliases for translator function types.
type TranslateRequestFunc = sdktranslator.RequestTransform

type TranslateResponseFunc = sdktranslator.ResponseStreamTransform

type TranslateResponseNonStreamFunc = sdktranslator.ResponseNonStreamTransform

type TranslateResponse = sdktranslator.ResponseTransform
