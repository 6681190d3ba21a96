// Package orchestrator drives the boost loop for one Claude request: it asks
// the boost model whether tools are needed, hands its guidance to the
// execution model and retries within a fixed iteration bound until the
// execution model calls a tool or the loop gives up.
package orchestrator

import (
	"bytes"
	"context"
	"strings"

	"github.com/router-for-me/BoostProxy/internal/api/middleware"
	"github.com/router-for-me/BoostProxy/internal/auxiliary"
	"github.com/router-for-me/BoostProxy/internal/boost"
	"github.com/router-for-me/BoostProxy/internal/loop"
	"github.com/router-for-me/BoostProxy/internal/runtime/executor"
	"github.com/router-for-me/BoostProxy/internal/translator/translator"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Terminal messages.
const (
	MsgMaxIterations = "Maximum retry attempts reached"
	MsgStall         = "Repeated guidance detected without progress"
	MsgMissingModel  = "Invalid request: missing model"
)

const previewLen = 200

// Outcomes reported to metrics and carried on Result.
const (
	OutcomeSummary       = "summary"
	OutcomeToolUse       = "tool_use"
	OutcomeStream        = "stream"
	OutcomeMaxIterations = "max_iterations"
	OutcomeStall         = "stall"
	OutcomeInvalid       = "invalid_request"
)

// Guide classifies a request with the boost model.
type Guide interface {
	GetGuidance(ctx context.Context, userRequest string, tools []byte, iteration int, priorAttempts []string) (boost.Guidance, error)
}

// Executor runs chat-completions calls against the execution backend.
type Executor interface {
	Execute(ctx context.Context, body []byte, requestID string) ([]byte, error)
	ExecuteStream(ctx context.Context, body []byte, requestID string) (<-chan executor.StreamChunk, error)
	Cancel(requestID string) bool
}

// Converter translates between the client and backend protocols.
type Converter interface {
	ToBackend(claudeReq []byte) ([]byte, string, error)
	ToClient(ctx context.Context, backendResp, claudeReq, backendReq []byte) []byte
	NewStream(claudeReq, backendReq []byte) *translator.Stream
}

// Event is one Claude SSE frame, or the error that ended the stream.
type Event struct {
	Data string
	Err  error
}

// Result is the outcome of Run. Exactly one of Message and Stream is set.
type Result struct {
	// Message is a complete Claude message. Terminal errors are well-formed
	// messages whose text starts with "Error: ".
	Message []byte
	// Stream carries the auxiliary reply when the client asked for streaming
	// and the execution model accepted the call.
	Stream     <-chan Event
	Outcome    string
	Iterations int
}

// Orchestrator is safe for concurrent use; each Run owns its loop state.
type Orchestrator struct {
	guide         Guide
	exec          Executor
	conv          Converter
	maxIterations int
}

// New wires the collaborators. maxIterations <= 0 uses loop.DefaultMaxIterations.
func New(guide Guide, exec Executor, conv Converter, maxIterations int) *Orchestrator {
	return &Orchestrator{guide: guide, exec: exec, conv: conv, maxIterations: maxIterations}
}

// Run executes the boost loop for claudeReq. requestID keys backend
// cancellation. Run never returns an internal error to the caller; every
// failure ends in a terminal Claude message.
func (o *Orchestrator) Run(ctx context.Context, claudeReq []byte, requestID string) Result {
	model := gjson.GetBytes(claudeReq, "model").String()
	if model == "" {
		return o.terminal(OutcomeInvalid, 0, errorMessage(claudeReq, MsgMissingModel))
	}
	log.Infof("boost: starting loop for model %s (request %s)", model, requestID)

	backendReq, _, err := o.conv.ToBackend(claudeReq)
	if err != nil {
		log.Errorf("boost: failed to convert request: %v", err)
		return o.terminal(OutcomeInvalid, 0, errorMessage(claudeReq, "Request conversion failed: "+err.Error()))
	}
	tools := []byte(gjson.GetBytes(backendReq, "tools").Raw)
	userRequest := UserRequest(claudeReq)
	stream := gjson.GetBytes(claudeReq, "stream").Bool()

	st := loop.New(o.maxIterations)
	for st.CanContinue() {
		log.Infof("boost: loop iteration %d", st.Iteration)

		snap := st.Snapshot()
		g, err := o.guide.GetGuidance(ctx, userRequest, tools, snap.Iteration, snap.Attempts)
		if err != nil {
			log.Errorf("boost: model call failed: %v", err)
			st.RecordAttempt("Boost model error: " + err.Error())
			if st.Advance() {
				continue
			}
			break
		}
		log.Infof("boost: reply classified as %s", g.Kind)

		switch g.Kind {
		case boost.KindSummary:
			st.RegisterAnalysis(g.Analysis)
			return o.terminal(OutcomeSummary, st.Iteration+1, summaryMessage(claudeReq, g.Payload))

		case boost.KindGuidance:
			st.RegisterAnalysis(g.Analysis)
			repeated := st.HasSeenGuidance(g.Payload)
			st.RegisterGuidance(g.Payload)
			if repeated && st.Iteration > 0 {
				log.Warn("boost: guidance repeated without progress, leaving loop early")
				return o.terminal(OutcomeStall, st.Iteration+1, errorMessage(claudeReq, MsgStall))
			}

			auxReq, err := auxiliary.BuildRequest(backendReq, g.Analysis, g.Payload, tools)
			if err != nil {
				st.RecordAttempt("Auxiliary execution failed: " + err.Error())
				if st.Advance() {
					continue
				}
				return o.exhausted(claudeReq, st)
			}

			if stream {
				events, err := o.exec.ExecuteStream(ctx, auxReq, requestID)
				if err != nil {
					log.Errorf("boost: auxiliary stream failed: %v", err)
					st.RecordAttempt("Auxiliary execution failed: " + err.Error())
					if st.Advance() {
						continue
					}
					return o.exhausted(claudeReq, st)
				}
				middleware.RecordLoopOutcome(OutcomeStream, st.Iteration+1)
				return Result{
					Stream:     o.monitor(ctx, events, claudeReq, auxReq, requestID),
					Outcome:    OutcomeStream,
					Iterations: st.Iteration + 1,
				}
			}

			resp, err := o.exec.Execute(ctx, auxReq, requestID)
			if err != nil {
				log.Errorf("boost: auxiliary execution failed: %v", err)
				st.RecordAttempt("Auxiliary execution failed: " + err.Error())
			} else if auxiliary.DetectToolUsage(resp) {
				log.Info("boost: auxiliary model used tools")
				return o.terminal(OutcomeToolUse, st.Iteration+1, o.conv.ToClient(ctx, resp, claudeReq, auxReq))
			} else {
				log.Warn("boost: auxiliary model did not use tools, retrying")
				st.RecordAttempt("Auxiliary model didn't use tools. Response: " + preview(auxiliary.ExtractFinalResponse(resp)) + "...")
			}
			if st.Advance() {
				continue
			}
			return o.exhausted(claudeReq, st)

		default:
			log.Warn("boost: model returned an invalid format, retrying")
			st.RegisterAnalysis(g.Analysis)
			st.RecordAttempt("Invalid response format: " + preview(g.Analysis) + "...")
			if st.Advance() {
				continue
			}
			return o.exhausted(claudeReq, st)
		}
	}
	return o.exhausted(claudeReq, st)
}

func (o *Orchestrator) exhausted(claudeReq []byte, st *loop.State) Result {
	log.Warnf("boost: max iterations (%d) reached", st.MaxIterations)
	return o.terminal(OutcomeMaxIterations, st.Iteration, errorMessage(claudeReq, MsgMaxIterations))
}

func (o *Orchestrator) terminal(outcome string, iterations int, msg []byte) Result {
	middleware.RecordLoopOutcome(outcome, iterations)
	return Result{Message: msg, Outcome: outcome, Iterations: iterations}
}



// monitor forwards converted stream events and watches the raw chunks for
// tool calls. A reply without tool calls is logged only: the client already
// received it.
func (o *Orchestrator) monitor(ctx context.Context, chunks <-chan executor.StreamChunk, claudeReq, auxReq []byte, requestID string) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		conv := o.conv.NewStream(claudeReq, auxReq)
		sawTools := false
		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		abort := func() {
			if o.exec.Cancel(requestID) {
				log.Infof("boost: client disconnected, cancelled request %s", requestID)
			}
		}

		for {
			var chunk executor.StreamChunk
			var ok bool
			select {
			case chunk, ok = <-chunks:
			case <-ctx.Done():
				abort()
				return
			}
			if !ok {
				break
			}
			if chunk.Err != nil {
				log.Errorf("boost: auxiliary stream failed: %v", chunk.Err)
				send(Event{Err: chunk.Err})
				return
			}
			if !sawTools && auxiliary.DetectToolUsage(streamPayload(chunk.Payload)) {
				sawTools = true
			}
			for _, frame := range conv.Convert(ctx, chunk.Payload) {
				if !send(Event{Data: frame}) {
					abort()
					return
				}
			}
		}

		for _, frame := range conv.Close(ctx) {
			if !send(Event{Data: frame}) {
				return
			}
		}
		if !sawTools {
			log.Warn("boost: streaming auxiliary reply did not use tools")
		}
	}()
	return out
}

func streamPayload(line []byte) []byte {
	line = bytes.TrimSpace(line)
	if bytes.HasPrefix(line, []byte("data:")) {
		line = bytes.TrimSpace(line[len("data:"):])
	}
	return line
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > previewLen {
		r = r[:previewLen]
	}
	return string(r)
}

// IsTerminalError reports whether msg is a synthesized error message.
func IsTerminalError(msg []byte) bool {
	return strings.HasPrefix(gjson.GetBytes(msg, "id").String(), "error-")
}

// UserRequest returns the text of the last user message: string content
// trimmed, or the trimmed text blocks joined by single spaces.
func UserRequest(claudeReq []byte) string {
	msgs := gjson.GetBytes(claudeReq, "messages").Array()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Get("role").String() == "user" {
			return contentText(msgs[i].Get("content"))
		}
	}
	return "User request not found"
}
