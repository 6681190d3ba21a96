// Package executor sends chat-completions requests to the OpenAI-compatible
// execution backend. It is used both for direct proxying and for the
// auxiliary calls of the boost loop.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/BoostProxy/internal/api/middleware"
	"github.com/router-for-me/BoostProxy/internal/config"
	"github.com/router-for-me/BoostProxy/internal/transport"
	"github.com/router-for-me/BoostProxy/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// maxStreamLine bounds one upstream SSE line.
	maxStreamLine = 52_428_800 // 50MB

	retryBackoff = 250 * time.Millisecond
)

// StreamChunk is one raw upstream SSE line, or the error that ended the stream.
type StreamChunk struct {
	Payload []byte
	Err     error
}

// Options configures an OpenAIExecutor.
type Options struct {
	BaseURL         string
	APIKey          string
	AzureAPIVersion string
	ProxyURL        string
	Timeout         time.Duration
	// MaxRetries applies only to the *WithRetry variants.
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
	Headers           map[string]string
}

// OptionsFromConfig reads the backend section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:           cfg.Backend.BaseURL,
		APIKey:            cfg.Backend.APIKey,
		AzureAPIVersion:   cfg.Backend.AzureAPIVersion,
		ProxyURL:          cfg.ProxyURL,
		Timeout:           cfg.RequestTimeout(),
		MaxRetries:        cfg.Backend.MaxRetries,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
		Burst:             cfg.Backend.Burst,
		Headers:           cfg.CustomHeaders(),
	}
}

// OpenAIExecutor is a stateless chat-completions client apart from the
// table of in-flight calls that Cancel consults.
type OpenAIExecutor struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	inflight map[string]*inflight
}

type inflight struct {
	cancel context.CancelFunc
}

// NewOpenAIExecutor takes its HTTP client from reg.
func NewOpenAIExecutor(opts Options, reg *transport.Registry) (*OpenAIExecutor, error) {
	if reg == nil {
		return nil, errors.New("executor: transport registry is required")
	}
	client, err := reg.Client(transport.Endpoint{
		BaseURL:  opts.BaseURL,
		Timeout:  opts.Timeout,
		APIKey:   opts.APIKey,
		ProxyURL: opts.ProxyURL,
	})
	if err != nil {
		return nil, err
	}
	e := &OpenAIExecutor{opts: opts, client: client, inflight: make(map[string]*inflight)}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return e, nil
}

func (e *OpenAIExecutor) Identifier() string { return "openai" }

// Execute performs one non-streaming call and returns the response body.
func (e *OpenAIExecutor) Execute(ctx context.Context, body []byte, requestID string) ([]byte, error) {
	ctx, release := e.track(ctx, requestID)
	defer release()

	httpResp, err := e.do(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("openai executor: close response body error: %v", errClose)
		}
	}()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		middleware.RecordUpstreamError("backend", "transport")
		return nil, err
	}
	return data, nil
}

// ExecuteStream performs one streaming call. Each non-empty upstream line is
// delivered as a chunk; a read failure arrives as a final chunk with Err set.
// The channel is closed when the upstream ends or ctx is cancelled.
func (e *OpenAIExecutor) ExecuteStream(ctx context.Context, body []byte, requestID string) (<-chan StreamChunk, error) {
	ctx, release := e.track(ctx, requestID)

	httpResp, err := e.do(ctx, body, true)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer release()
		defer func() {
			if errClose := httpResp.Body.Close(); errClose != nil {
				log.Errorf("openai executor: close response body error: %v", errClose)
			}
		}()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(nil, maxStreamLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case out <- StreamChunk{Payload: bytes.Clone(line)}:
			case <-ctx.Done():
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil && ctx.Err() == nil {
			middleware.RecordUpstreamError("backend", "transport")
			select {
			case out <- StreamChunk{Err: errScan}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// ExecuteWithRetry is Execute with up to MaxRetries further attempts on
// transport failures, 429 and 5xx replies.
func (e *OpenAIExecutor) ExecuteWithRetry(ctx context.Context, body []byte, requestID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryBackoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
			log.Debugf("openai executor: retry %d/%d after %v", attempt, e.opts.MaxRetries, lastErr)
		}
		data, err := e.Execute(ctx, body, requestID)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// ExecuteStreamWithRetry retries opening the stream; once chunks flow the
// stream is never restarted.
func (e *OpenAIExecutor) ExecuteStreamWithRetry(ctx context.Context, body []byte, requestID string) (<-chan StreamChunk, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryBackoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
			log.Debugf("openai executor: stream retry %d/%d after %v", attempt, e.opts.MaxRetries, lastErr)
		}
		stream, err := e.ExecuteStream(ctx, body, requestID)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// Cancel aborts the in-flight call registered under requestID.
func (e *OpenAIExecutor) Cancel(requestID string) bool {
	e.mu.Lock()
	f, ok := e.inflight[requestID]
	if ok {
		delete(e.inflight, requestID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	f.cancel()
	log.Debugf("openai executor: cancelled request %s", requestID)
	return true
}

// InFlight reports the number of cancellable calls.
func (e *OpenAIExecutor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

func (e *OpenAIExecutor) track(ctx context.Context, requestID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if requestID == "" {
		return ctx, cancel
	}
	f := &inflight{cancel: cancel}
	e.mu.Lock()
	e.inflight[requestID] = f
	e.mu.Unlock()
	return ctx, func() {
		e.mu.Lock()
		if e.inflight[requestID] == f {
			delete(e.inflight, requestID)
		}
		e.mu.Unlock()
		cancel()
	}
}

func (e *OpenAIExecutor) do(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := e.endpoint()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	e.applyHeaders(httpReq, stream)

	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("openai executor: POST %s headers=%v body=%s", endpoint, util.RedactHeaders(httpReq.Header), util.RedactSensitiveJSON(body))
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		middleware.RecordUpstreamError("backend", "transport")
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(httpResp.Body)
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("openai executor: close response body error: %v", errClose)
		}
		log.Debugf("request error, error status: %d, error body: %s", httpResp.StatusCode, summarizeErrorBody(httpResp.Header.Get("Content-Type"), b))
		middleware.RecordUpstreamError("backend", "status")
		return nil, StatusError{code: httpResp.StatusCode, msg: string(b)}
	}
	return httpResp, nil
}

func (e *OpenAIExecutor) endpoint() string {
	u := strings.TrimSuffix(e.opts.BaseURL, "/") + "/chat/completions"
	if e.opts.AzureAPIVersion != "" {
		u += "?api-version=" + url.QueryEscape(e.opts.AzureAPIVersion)
	}
	return u
}

func (e *OpenAIExecutor) applyHeaders(r *http.Request, stream bool) {
	r.Header.Set("Content-Type", "application/json")
	if e.opts.AzureAPIVersion != "" {
		r.Header.Set("api-key", e.opts.APIKey)
	} else {
		r.Header.Set("Authorization", "Bearer "+e.opts.APIKey)
	}
	for k, v := range e.opts.Headers {
		r.Header.Set(k, v)
	}
	if stream {
		r.Header.Set("Accept", "text/event-stream")
		return
	}
	r.Header.Set("Accept", "application/json")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
