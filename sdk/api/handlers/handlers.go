// Package handlers contains the shared plumbing of the client-facing API
// handlers: the collaborator snapshot swapped on config reload, direct
// (non-boost) execution against the backend and SSE forwarding.
package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/BoostProxy/internal/config"
	apperrors "github.com/router-for-me/BoostProxy/internal/errors"
	"github.com/router-for-me/BoostProxy/internal/interfaces"
	"github.com/router-for-me/BoostProxy/internal/logging"
	"github.com/router-for-me/BoostProxy/internal/orchestrator"
	"github.com/router-for-me/BoostProxy/internal/runtime/executor"
	"github.com/router-for-me/BoostProxy/internal/translator/translator"
	"github.com/router-for-me/BoostProxy/internal/util"
	log "github.com/sirupsen/logrus"
)

// DirectExecutor is the backend surface used outside the boost loop.
type DirectExecutor interface {
	ExecuteWithRetry(ctx context.Context, body []byte, requestID string) ([]byte, error)
	ExecuteStreamWithRetry(ctx context.Context, body []byte, requestID string) (<-chan executor.StreamChunk, error)
}

// Runner runs the boost loop.
type Runner interface {
	Run(ctx context.Context, claudeReq []byte, requestID string) orchestrator.Result
}

// Clients is the set of collaborators a request is served with. A request
// reads one snapshot and keeps it even if the config reloads meanwhile.
type Clients struct {
	Cfg       *config.Config
	Converter *translator.Converter
	Executor  DirectExecutor
	// Boost is nil when boost support is disabled.
	Boost Runner
	// Release stops background work owned by this snapshot. May be nil.
	Release func()
}

// BaseAPIHandler holds the current Clients snapshot.
type BaseAPIHandler struct {
	clients atomic.Pointer[Clients]
}

// NewBaseAPIHandlers creates a handler base serving with clients.
func NewBaseAPIHandlers(clients *Clients) *BaseAPIHandler {
	h := &BaseAPIHandler{}
	h.UpdateClients(clients)
	return h
}

// UpdateClients swaps the collaborators used by new requests.
func (h *BaseAPIHandler) UpdateClients(clients *Clients) { h.clients.Store(clients) }

// Clients returns the current snapshot.
func (h *BaseAPIHandler) Clients() *Clients { return h.clients.Load() }

// RequestID returns the correlation id set by the request logger, or a fresh one.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(logging.RequestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	id := uuid.NewString()
	c.Set(logging.RequestIDKey, id)
	return id
}

// GetContextWithCancel derives the request context. The returned cancel func
// optionally receives the response payload, which is debug-logged (redacted)
// when request logging is on.
func (h *BaseAPIHandler) GetContextWithCancel(handler interfaces.APIHandler, c *gin.Context, ctx context.Context) (context.Context, APIHandlerCancelFunc) {
	newCtx, cancel := context.WithCancel(ctx)
	cfg := h.Clients().Cfg
	return newCtx, func(params ...interface{}) {
		if cfg != nil && cfg.RequestLog && len(params) == 1 {
			var payload []byte
			switch data := params[0].(type) {
			case []byte:
				payload = data
			case error:
				if data != nil {
					payload = []byte(data.Error())
				}
			case string:
				payload = []byte(data)
			}
			if len(payload) > 0 {
				log.WithField(logging.RequestIDKey, RequestID(c)).
					Debugf("%s response: %s", handler.HandlerType(), util.RedactSensitiveJSON(payload))
			}
		}
		cancel()
	}
}

// ExecuteDirect converts claudeReq, sends it to the backend with retries and
// converts the reply back.
func (h *BaseAPIHandler) ExecuteDirect(ctx context.Context, claudeReq []byte, requestID string) ([]byte, *apperrors.AppError) {
	cl := h.Clients()
	backendReq, _, err := cl.Converter.ToBackend(claudeReq)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}
	resp, err := cl.Executor.ExecuteWithRetry(ctx, backendReq, requestID)
	if err != nil {
		log.Errorf("direct request failed: %v", err)
		return nil, apperrors.Upstream(err)
	}
	return cl.Converter.ToClient(ctx, resp, claudeReq, backendReq), nil
}

// ExecuteDirectStream opens a converted backend stream. Failures to open are
// returned; later failures arrive as an Event with Err set.
func (h *BaseAPIHandler) ExecuteDirectStream(ctx context.Context, claudeReq []byte, requestID string) (<-chan orchestrator.Event, *apperrors.AppError) {
	cl := h.Clients()
	backendReq, _, err := cl.Converter.ToBackend(claudeReq)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}
	chunks, err := cl.Executor.ExecuteStreamWithRetry(ctx, backendReq, requestID)
	if err != nil {
		log.Errorf("direct stream failed: %v", err)
		return nil, apperrors.Upstream(err)
	}

	out := make(chan orchestrator.Event)
	go func() {
		defer close(out)
		conv := cl.Converter.NewStream(claudeReq, backendReq)
		send := func(ev orchestrator.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				send(orchestrator.Event{Err: chunk.Err})
				return
			}
			for _, frame := range conv.Convert(ctx, chunk.Payload) {
				if !send(orchestrator.Event{Data: frame}) {
					return
				}
			}
		}
		if ctx.Err() != nil {
			return
		}
		for _, frame := range conv.Close(ctx) {
			if !send(orchestrator.Event{Data: frame}) {
				return
			}
		}
	}()
	return out, nil
}

// SetStreamHeaders prepares the response for SSE.
func SetStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
}

// ForwardStream copies events to the client until the channel closes or the
// client goes away, emitting ping events while the backend is quiet. A stream
// error is reported as a Claude error event. cancel receives the error, or
// nil on success.
func (h *BaseAPIHandler) ForwardStream(c *gin.Context, flusher http.Flusher, cancel APIHandlerCancelFunc, events <-chan orchestrator.Event) {
	var keepAlive <-chan time.Time
	if cfg := h.Clients().Cfg; cfg != nil {
		if secs := cfg.Streaming.KeepAliveInterval(); secs > 0 {
			ticker := time.NewTicker(time.Duration(secs) * time.Second)
			defer ticker.Stop()
			keepAlive = ticker.C
		}
	}

	for {
		select {
		case <-c.Request.Context().Done():
			cancel(c.Request.Context().Err())
			return
		case <-keepAlive:
			WriteSSEPing(c.Writer)
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				flusher.Flush()
				cancel(nil)
				return
			}
			if ev.Err != nil {
				WriteSSEError(c.Writer, apperrors.Upstream(ev.Err).ToClaudeJSON())
				flusher.Flush()
				cancel(ev.Err)
				return
			}
			WriteSSEFrame(c.Writer, ev.Data)
			flusher.Flush()
		}
	}
}

// WriteErrorResponse writes err as a Claude error envelope.
func (h *BaseAPIHandler) WriteErrorResponse(c *gin.Context, err *apperrors.AppError) {
	status := http.StatusInternalServerError
	if err != nil && err.HTTPStatusCode > 0 {
		status = err.HTTPStatusCode
	}
	if err == nil {
		err = apperrors.New(status, apperrors.CodeAPI, http.StatusText(status), nil)
	}
	c.Header("Content-Type", "application/json")
	c.Status(status)
	_, _ = c.Writer.Write(err.ToClaudeJSON())
}

// APIHandlerCancelFunc is a function type for canceling an API handler's context.
// It can optionally accept parameters, which are used for logging the response.
type APIHandlerCancelFunc func(params ...interface{})
