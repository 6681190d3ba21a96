package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/router-for-me/BoostProxy/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, opts Options) *OpenAIExecutor {
	t.Helper()
	reg := transport.NewRegistry()
	t.Cleanup(reg.Close)
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	e, err := NewOpenAIExecutor(opts, reg)
	require.NoError(t, err)
	return e
}

func TestExecute_SendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, Options{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Headers: map[string]string{"X-Custom": "yes"}})
	out, err := e.Execute(context.Background(), []byte(`{"model":"gpt-4o"}`), "req-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"choices":[{"message":{"content":"ok"}}]}`, string(out))
	assert.Equal(t, 0, e.InFlight())
}

func TestExecute_Azure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, Options{BaseURL: srv.URL, APIKey: "azure-key", AzureAPIVersion: "2024-06-01"})
	_, err := e.Execute(context.Background(), []byte(`{}`), "")
	require.NoError(t, err)
}

func TestExecute_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, Options{BaseURL: srv.URL, APIKey: "k"})
	_, err := e.Execute(context.Background(), []byte(`{}`), "")
	require.Error(t, err)

	var se StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode())
	assert.Equal(t, "bad model", se.Message())
}

func TestExecuteWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		status    int
		retries   int
		wantCalls int32
		wantErr   bool
	}{
		{name: "recovers after 5xx", failures: 1, status: http.StatusBadGateway, retries: 2, wantCalls: 2},
		{name: "gives up after retries", failures: 5, status: http.StatusInternalServerError, retries: 1, wantCalls: 2, wantErr: true},
		{name: "client errors are not retried", failures: 5, status: http.StatusBadRequest, retries: 3, wantCalls: 1, wantErr: true},
		{name: "no retries configured", failures: 1, status: http.StatusServiceUnavailable, retries: 0, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= tt.failures {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer srv.Close()

			e := newTestExecutor(t, Options{BaseURL: srv.URL, APIKey: "k", MaxRetries: tt.retries})
			_, err := e.ExecuteWithRetry(context.Background(), []byte(`{}`), "")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestExecuteStream_DeliversLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range []string{`data: {"n":1}`, `data: {"n":2}`, `data: [DONE]`} {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
	defer srv.Close()

	e := newTestExecutor(t, Options{BaseURL: srv.URL, APIKey: "k"})
	stream, err := e.ExecuteStream(context.Background(), []byte(`{"stream":true}`), "req-s")
	require.NoError(t, err)

	var got []string
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		got = append(got, string(chunk.Payload))
	}
	assert.Equal(t, []string{`data: {"n":1}`, `data: {"n":2}`, `data: [DONE]`}, got)
	assert.Equal(t, 0, e.InFlight())
}

func TestExecuteStream_OpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := newTestExecutor(t, Options{BaseURL: srv.URL, APIKey: "k"})
	_, err := e.ExecuteStream(context.Background(), []byte(`{}`), "req-x")
	require.Error(t, err)
	assert.Equal(t, 0, e.InFlight())
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := newTestExecutor(t, Options{BaseURL: srv.URL, APIKey: "k"})
	assert.False(t, e.Cancel("unknown"))

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), []byte(`{}`), "req-c")
		errCh <- err
	}()

	<-started
	assert.True(t, e.Cancel("req-c"))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled call did not return")
	}
	assert.False(t, e.Cancel("req-c"))
}

func TestNewOpenAIExecutor_RequiresRegistry(t *testing.T) {
	_, err := NewOpenAIExecutor(Options{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, Options{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 0.001, Burst: 1})
	_, err := e.Execute(context.Background(), []byte(`{}`), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.Execute(ctx, []byte(`{}`), "")
	assert.Error(t, err, "second call must wait for a token and hit the deadline")
}
