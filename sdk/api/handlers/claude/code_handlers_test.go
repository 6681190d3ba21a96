package claude

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/BoostProxy/internal/config"
	"github.com/router-for-me/BoostProxy/internal/orchestrator"
	"github.com/router-for-me/BoostProxy/internal/runtime/executor"
	"github.com/router-for-me/BoostProxy/internal/translator/translator"
	"github.com/router-for-me/BoostProxy/sdk/api/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeDirect struct {
	mu     sync.Mutex
	resp   []byte
	err    error
	lines  []string
	bodies [][]byte
}

func (f *fakeDirect) ExecuteWithRetry(_ context.Context, body []byte, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return f.resp, f.err
}

func (f *fakeDirect) ExecuteStreamWithRetry(_ context.Context, body []byte, _ string) (<-chan executor.StreamChunk, error) {
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan executor.StreamChunk, len(f.lines))
	for _, l := range f.lines {
		ch <- executor.StreamChunk{Payload: []byte(l)}
	}
	close(ch)
	return ch, nil
}

func (f *fakeDirect) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

type fakeRunner struct {
	result orchestrator.Result
	calls  int
}

func (f *fakeRunner) Run(context.Context, []byte, string) orchestrator.Result {
	f.calls++
	return f.result
}

func testConfig(tier string) *config.Config {
	cfg := config.Default()
	cfg.Models.Middle = cfg.Models.Big
	cfg.Boost.Enabled = tier
	return cfg
}

func newRouter(cfg *config.Config, exec handlers.DirectExecutor, boost handlers.Runner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	base := handlers.NewBaseAPIHandlers(&handlers.Clients{
		Cfg:       cfg,
		Converter: translator.NewConverter(cfg),
		Executor:  exec,
		Boost:     boost,
	})
	h := NewClaudeCodeAPIHandler(base)
	r := gin.New()
	r.POST("/v1/messages", h.ClaudeMessages)
	r.POST("/v1/messages/count_tokens", h.ClaudeCountTokens)
	r.GET("/v1/models", h.ClaudeModels)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

const (
	textReply = `{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`
	withTools = `{"model":"claude-3-5-sonnet","max_tokens":50,"messages":[{"role":"user","content":"list files"}],"tools":[{"name":"ls","description":"list","input_schema":{"type":"object"}}]}`
	noTools   = `{"model":"claude-3-5-sonnet","max_tokens":50,"messages":[{"role":"user","content":"hello"}]}`
)

func TestClaudeMessages_Direct(t *testing.T) {
	exec := &fakeDirect{resp: []byte(textReply)}
	r := newRouter(testConfig(config.TierNone), exec, nil)

	w := post(r, "/v1/messages", noTools)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "message", gjson.Get(w.Body.String(), "type").String())
	assert.Equal(t, "hi there", gjson.Get(w.Body.String(), "content.0.text").String())

	require.Equal(t, 1, exec.calls())
	assert.Equal(t, config.DefaultBigModel, gjson.GetBytes(exec.bodies[0], "model").String())
	assert.Equal(t, int64(config.DefaultMinTokens), gjson.GetBytes(exec.bodies[0], "max_tokens").Int())
}

func TestClaudeMessages_DirectUpstreamError(t *testing.T) {
	exec := &fakeDirect{err: executor.NewStatusError(http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)}
	r := newRouter(testConfig(config.TierNone), exec, nil)

	w := post(r, "/v1/messages", noTools)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "error", gjson.Get(w.Body.String(), "type").String())
	assert.Equal(t, "rate_limit_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Equal(t, "slow down", gjson.Get(w.Body.String(), "error.message").String())
}

func TestClaudeMessages_InvalidBody(t *testing.T) {
	exec := &fakeDirect{}
	r := newRouter(testConfig(config.TierNone), exec, nil)

	for _, body := range []string{`not json`, `[1,2]`} {
		w := post(r, "/v1/messages", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_request_error", gjson.Get(w.Body.String(), "error.type").String())
	}
	assert.Equal(t, 0, exec.calls())
}

func TestClaudeMessages_Routing(t *testing.T) {
	tests := []struct {
		name      string
		tier      string
		body      string
		noBoost   bool
		wantBoost bool
	}{
		{name: "tier enabled with tools", tier: config.TierMiddle, body: withTools, wantBoost: true},
		{name: "no tools", tier: config.TierMiddle, body: noTools},
		{name: "other tier", tier: config.TierSmall, body: withTools},
		{name: "boost disabled", tier: config.TierNone, body: withTools},
		{name: "no boost client", tier: config.TierMiddle, body: withTools, noBoost: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeDirect{resp: []byte(textReply)}
			runner := &fakeRunner{result: orchestrator.Result{
				Message: []byte(`{"id":"boost-1","type":"message","role":"assistant","content":[{"type":"text","text":"done"}],"model":"claude-3-5-sonnet","stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}`),
				Outcome: orchestrator.OutcomeSummary, Iterations: 1,
			}}
			var boost handlers.Runner = runner
			if tt.noBoost {
				boost = nil
			}
			r := newRouter(testConfig(tt.tier), exec, boost)

			w := post(r, "/v1/messages", tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			if tt.wantBoost {
				assert.Equal(t, 1, runner.calls)
				assert.Equal(t, 0, exec.calls())
				assert.Equal(t, "done", gjson.Get(w.Body.String(), "content.0.text").String())
				assert.Equal(t, orchestrator.OutcomeSummary, w.Header().Get("X-Boost-Outcome"))
				assert.Equal(t, "1", w.Header().Get("X-Boost-Iterations"))
				return
			}
			assert.Equal(t, 0, runner.calls)
			assert.Equal(t, 1, exec.calls())
		})
	}
}

func TestClaudeMessages_BoostMessageAsStream(t *testing.T) {
	runner := &fakeRunner{result: orchestrator.Result{
		Message: []byte(`{"id":"error-42","type":"message","role":"assistant","content":[{"type":"text","text":"Error: Maximum retry attempts reached"}],"model":"claude-3-5-sonnet","stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}`),
		Outcome: orchestrator.OutcomeMaxIterations, Iterations: 3,
	}}
	r := newRouter(testConfig(config.TierMiddle), &fakeDirect{}, runner)

	body := strings.Replace(withTools, `"max_tokens":50`, `"max_tokens":50,"stream":true`, 1)
	w := post(r, "/v1/messages", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	out := w.Body.String()
	assert.True(t, strings.HasPrefix(out, "event: message_start\n"))
	assert.Contains(t, out, "Error: Maximum retry attempts reached")
	assert.Contains(t, out, "event: message_stop\n")
}

func TestClaudeMessages_BoostStream(t *testing.T) {
	events := make(chan orchestrator.Event, 3)
	events <- orchestrator.Event{Data: "event: message_start\ndata: {\"type\":\"message_start\"}\n\n"}
	events <- orchestrator.Event{Data: "event: content_block_start\ndata: {\"type\":\"content_block_start\"}\n\n"}
	events <- orchestrator.Event{Err: errors.New("connection reset")}
	close(events)

	runner := &fakeRunner{result: orchestrator.Result{Stream: events, Outcome: orchestrator.OutcomeStream, Iterations: 1}}
	r := newRouter(testConfig(config.TierMiddle), &fakeDirect{}, runner)

	body := strings.Replace(withTools, `"max_tokens":50`, `"max_tokens":50,"stream":true`, 1)
	w := post(r, "/v1/messages", body)
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.True(t, strings.HasPrefix(out, "event: message_start\n"))
	assert.Contains(t, out, "event: content_block_start\n")
	assert.Contains(t, out, "event: error\ndata: ")
	assert.Contains(t, out, `"api_error"`)
}

func TestClaudeMessages_DirectStream(t *testing.T) {
	exec := &fakeDirect{lines: []string{
		`data: {"id":"c1","choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`data: {"id":"c1","choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	}}
	r := newRouter(testConfig(config.TierNone), exec, nil)

	body := strings.Replace(noTools, `"max_tokens":50`, `"max_tokens":50,"stream":true`, 1)
	w := post(r, "/v1/messages", body)
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "event: message_start\n")
	assert.Contains(t, out, `"text":"Hel"`)
	assert.Contains(t, out, "event: message_stop\n")
	assert.True(t, gjson.GetBytes(exec.bodies[0], "stream").Bool())
}

func TestClaudeMessages_DirectStreamOpenFailure(t *testing.T) {
	exec := &fakeDirect{err: executor.NewStatusError(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)}
	r := newRouter(testConfig(config.TierNone), exec, nil)

	body := strings.Replace(noTools, `"max_tokens":50`, `"max_tokens":50,"stream":true`, 1)
	w := post(r, "/v1/messages", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_error", gjson.Get(w.Body.String(), "error.type").String())
}

func TestClaudeModels(t *testing.T) {
	r := newRouter(testConfig(config.TierNone), &fakeDirect{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := gjson.Get(w.Body.String(), "data").Array()
	require.NotEmpty(t, data)
	for _, m := range data {
		assert.Equal(t, "model", m.Get("type").String())
		assert.NotEmpty(t, m.Get("backend_model").String(), m.Raw)
	}
	assert.Equal(t, data[0].Get("id").String(), gjson.Get(w.Body.String(), "first_id").String())
}
