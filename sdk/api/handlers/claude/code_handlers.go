// Package claude serves the Claude Messages API: /v1/messages through either
// the boost loop or the direct backend path, token counting and the model list.
package claude

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/router-for-me/BoostProxy/internal/errors"
	"github.com/router-for-me/BoostProxy/internal/orchestrator"
	"github.com/router-for-me/BoostProxy/sdk/api/handlers"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Values stored under the "boost_mode" gin key for the request logger.
const (
	ModeBoost  = "boost"
	ModeDirect = "direct"
)

// ClaudeCodeAPIHandler contains the handlers for Claude API endpoints.
type ClaudeCodeAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewClaudeCodeAPIHandler creates a new Claude API handlers instance.
func NewClaudeCodeAPIHandler(apiHandlers *handlers.BaseAPIHandler) *ClaudeCodeAPIHandler {
	return &ClaudeCodeAPIHandler{BaseAPIHandler: apiHandlers}
}

// HandlerType returns the identifier for this handler implementation.
func (h *ClaudeCodeAPIHandler) HandlerType() string { return "claude" }

// Models returns the Claude model catalogue with the backend model each name
// maps to.
func (h *ClaudeCodeAPIHandler) Models() []map[string]any {
	infos := h.Clients().Converter.Mapper().Models()
	out := make([]map[string]any, 0, len(infos))
	for _, m := range infos {
		out = append(out, map[string]any{
			"type":          "model",
			"id":            m.ID,
			"display_name":  m.DisplayName,
			"created_at":    time.Unix(m.Created, 0).UTC().Format(time.RFC3339),
			"tier":          m.Tier,
			"backend_model": m.Backend,
		})
	}
	return out
}

// ClaudeModels handles GET /v1/models.
func (h *ClaudeCodeAPIHandler) ClaudeModels(c *gin.Context) {
	models := h.Models()
	resp := gin.H{"data": models, "has_more": false, "first_id": nil, "last_id": nil}
	if len(models) > 0 {
		resp["first_id"] = models[0]["id"]
		resp["last_id"] = models[len(models)-1]["id"]
	}
	c.JSON(http.StatusOK, resp)
}

// ClaudeMessages handles POST /v1/messages. Requests with tools whose model
// tier has boost enabled run through the boost loop; everything else is
// proxied directly.
func (h *ClaudeCodeAPIHandler) ClaudeMessages(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.WriteErrorResponse(c, apperrors.BadRequest(fmt.Sprintf("Invalid request: %v", err), err))
		return
	}
	if !gjson.ValidBytes(rawJSON) || !gjson.ParseBytes(rawJSON).IsObject() {
		h.WriteErrorResponse(c, apperrors.BadRequest("Invalid request: body must be a JSON object", nil))
		return
	}

	model := gjson.GetBytes(rawJSON, "model").String()
	stream := gjson.GetBytes(rawJSON, "stream").Bool()
	requestID := handlers.RequestID(c)
	c.Set("model", model)

	if h.boostApplies(rawJSON, model) {
		c.Set("boost_mode", ModeBoost)
		h.handleBoost(c, rawJSON, stream, requestID)
		return
	}
	c.Set("boost_mode", ModeDirect)
	if stream {
		h.handleStreamingResponse(c, rawJSON, requestID)
		return
	}
	h.handleNonStreamingResponse(c, rawJSON, requestID)
}

func (h *ClaudeCodeAPIHandler) boostApplies(rawJSON []byte, model string) bool {
	cl := h.Clients()
	if cl.Boost == nil || !cl.Cfg.IsBoostEnabledForTier(cl.Converter.Mapper().Tier(model)) {
		return false
	}
	return len(gjson.GetBytes(rawJSON, "tools").Array()) > 0
}

func (h *ClaudeCodeAPIHandler) handleBoost(c *gin.Context, rawJSON []byte, stream bool, requestID string) {
	cliCtx, cliCancel := h.GetContextWithCancel(h, c, c.Request.Context())
	res := h.Clients().Boost.Run(cliCtx, rawJSON, requestID)
	c.Header("X-Boost-Outcome", res.Outcome)
	c.Header("X-Boost-Iterations", strconv.Itoa(res.Iterations))
	log.Debugf("boost finished with %s after %d iteration(s)", res.Outcome, res.Iterations)

	if res.Stream != nil {
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			cliCancel()
			h.WriteErrorResponse(c, apperrors.New(http.StatusInternalServerError, apperrors.CodeAPI, "Streaming not supported", nil))
			return
		}
		handlers.SetStreamHeaders(c)
		c.Status(http.StatusOK)
		h.ForwardStream(c, flusher, cliCancel, res.Stream)
		return
	}

	if !stream {
		c.Data(http.StatusOK, "application/json", res.Message)
		cliCancel(res.Message)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		cliCancel()
		c.Data(http.StatusOK, "application/json", res.Message)
		return
	}
	handlers.SetStreamHeaders(c)
	c.Status(http.StatusOK)
	for _, frame := range orchestrator.MessageEvents(res.Message) {
		handlers.WriteSSEFrame(c.Writer, frame)
	}
	flusher.Flush()
	cliCancel(res.Message)
}

func (h *ClaudeCodeAPIHandler) handleNonStreamingResponse(c *gin.Context, rawJSON []byte, requestID string) {
	cliCtx, cliCancel := h.GetContextWithCancel(h, c, c.Request.Context())
	resp, errMsg := h.ExecuteDirect(cliCtx, rawJSON, requestID)
	if errMsg != nil {
		h.WriteErrorResponse(c, errMsg)
		cliCancel(errMsg.Err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
	cliCancel(resp)
}

func (h *ClaudeCodeAPIHandler) handleStreamingResponse(c *gin.Context, rawJSON []byte, requestID string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.WriteErrorResponse(c, apperrors.New(http.StatusInternalServerError, apperrors.CodeAPI, "Streaming not supported", nil))
		return
	}

	cliCtx, cliCancel := h.GetContextWithCancel(h, c, c.Request.Context())
	events, errMsg := h.ExecuteDirectStream(cliCtx, rawJSON, requestID)
	if errMsg != nil {
		h.WriteErrorResponse(c, errMsg)
		cliCancel(errMsg.Err)
		return
	}

	handlers.SetStreamHeaders(c)
	c.Status(http.StatusOK)
	h.ForwardStream(c, flusher, cliCancel, events)
}
