package middleware

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBytes caps decoded request bodies.
const maxDecompressedBytes = 128 << 20 // 128MiB

// RequestDecompressionMiddleware transparently decodes request bodies sent with
// Content-Encoding gzip, br or zstd. net/http never decodes request bodies, so
// without this the messages handler would see compressed bytes.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		reader, closeFn, err := decoderFor(enc, c.Request.Body)
		if err != nil {
			abortInvalidBody(c, http.StatusBadRequest, err.Error())
			return
		}
		if reader == nil {
			c.Next()
			return
		}
		defer closeFn()

		decoded, err := io.ReadAll(io.LimitReader(reader, maxDecompressedBytes+1))
		if err != nil {
			abortInvalidBody(c, http.StatusBadRequest, fmt.Sprintf("failed to decompress %s request body", enc))
			return
		}
		if int64(len(decoded)) > maxDecompressedBytes {
			abortInvalidBody(c, http.StatusRequestEntityTooLarge, "decompressed request body too large")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

// decoderFor returns a nil reader for encodings it does not handle.
func decoderFor(enc string, body io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.Contains(enc, "gzip"):
		gzr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid gzip request body")
		}
		return gzr, func() { _ = gzr.Close() }, nil
	case strings.Contains(enc, "zstd"):
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid zstd request body")
		}
		return zr, zr.Close, nil
	case enc == "br":
		return brotli.NewReader(body), func() {}, nil
	default:
		return nil, nil, nil
	}
}

func abortInvalidBody(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    "invalid_request_error",
			"message": message,
		},
	})
}
