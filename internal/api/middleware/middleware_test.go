package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{"model":"claude-3-haiku","messages":[]}`

func echoEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.POST("/echo", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Data(http.StatusOK, "text/plain", body)
	})
	return r
}

func compress(t *testing.T, enc string) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch enc {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, _ = w.Write([]byte(payload))
		require.NoError(t, w.Close())
	case "br":
		w := brotli.NewWriter(&buf)
		_, _ = w.Write([]byte(payload))
		require.NoError(t, w.Close())
	case "zstd":
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, _ = w.Write([]byte(payload))
		require.NoError(t, w.Close())
	default:
		buf.WriteString(payload)
	}
	return buf.Bytes()
}

func TestRequestDecompressionMiddleware(t *testing.T) {
	r := echoEngine(RequestDecompressionMiddleware())

	for _, enc := range []string{"", "identity", "gzip", "br", "zstd"} {
		t.Run("encoding "+enc, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(compress(t, enc)))
			if enc != "" {
				req.Header.Set("Content-Encoding", enc)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, payload, w.Body.String())
		})
	}
}

func TestRequestDecompressionMiddleware_Invalid(t *testing.T) {
	r := echoEngine(RequestDecompressionMiddleware())
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte("not gzip")))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_error")
}

func TestConnectionTracker(t *testing.T) {
	ct := &ConnectionTracker{}
	var during int64
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ct.Track())
	r.GET("/", func(c *gin.Context) {
		during = ct.Count()
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, int64(1), during)
	assert.Equal(t, int64(0), ct.Count())
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/":                         "/",
		"/health":                   "/health",
		"/messages":                 "/v1/messages",
		"/v1/messages":              "/v1/messages",
		"/v1/messages/count_tokens": "/v1/messages/count_tokens",
		"/v1/unknown/abc":           "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestMetrics(t *testing.T) {
	SetMetricsEnabled(true)
	t.Cleanup(func() { SetMetricsEnabled(true) })
	RegisterMetrics()

	before := testutil.ToFloat64(boostOutcomes.WithLabelValues("stall"))
	RecordLoopOutcome("stall", 2)
	assert.Equal(t, before+1, testutil.ToFloat64(boostOutcomes.WithLabelValues("stall")))

	SetCacheSize("boost_guidance", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(boostCacheSize.WithLabelValues("boost_guidance")))

	SetMetricsEnabled(false)
	RecordLoopOutcome("stall", 1)
	assert.Equal(t, before+1, testutil.ToFloat64(boostOutcomes.WithLabelValues("stall")))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", MetricsHandler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	SetMetricsEnabled(true)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "boostproxy_loop_outcomes_total")
}
