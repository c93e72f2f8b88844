// Package agent implements the reasoning loop that drives one invocation:
// submit the hydrated context plus user turn to the model, execute requested
// tool calls through the gateway, feed results back, and surface every step as
// a StreamChunk until the model produces a final answer or the round budget
// runs out.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/gateway"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/model"
)

// Dispatcher is the tool-routing contract the orchestrator depends on.
// *gateway.Dispatcher satisfies it; tests substitute fakes.
type Dispatcher interface {
	Dispatch(ictx *core.InvocationContext, fqName string, args map[string]any) gateway.ToolResult
}

// Options configure an Orchestrator.
type Options struct {
	// MaxRounds bounds the number of model calls per invocation. Exhausting it
	// is reported as a distinct terminal condition, never silently truncated.
	MaxRounds int
	// Instruction is the static system prompt prepended to the hydrated
	// preamble.
	Instruction string
	// Logger receives loop-scoped log records.
	Logger logging.Logger
}

// Orchestrator owns the reasoning loop for invocations. It is stateless across
// requests and safe for concurrent use; all mutable state lives in the
// InvocationContext passed to Run.
type Orchestrator struct {
	model       model.Model
	dispatcher  Dispatcher
	maxRounds   int
	instruction string
	logger      logging.Logger
}

// New constructs an Orchestrator with sensible defaults.
func New(m model.Model, dispatcher Dispatcher, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxRounds:   10,
		Instruction: "You are a helpful AI assistant.",
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Orchestrator{
		model:       m,
		dispatcher:  dispatcher,
		maxRounds:   opts.MaxRounds,
		instruction: opts.Instruction,
		logger:      opts.Logger,
	}
}

// consecutiveAuthRoundLimit aborts an invocation once this many rounds in a
// row saw every tool call rejected for credentials.
const consecutiveAuthRoundLimit = 2

// Run executes the reasoning loop for one user turn. It returns the finalized
// turns (for post-turn persistence) and a nil error on a final answer,
// core.ErrMaxRounds when the round budget is exhausted, or the terminating
// error otherwise. Every model output fragment and tool exchange is pushed to
// prod in production order.
func (o *Orchestrator) Run(
	ictx *core.InvocationContext,
	prod *core.StreamProducer,
	preamble string,
	userText string,
	tools []model.ToolDefinition,
) ([]core.Turn, error) {
	ctx := ictx.Context()

	turns := []core.Turn{{Role: "user", Text: userText}}
	messages := []model.Message{{Role: model.RoleUser, Text: userText}}

	system := o.instruction
	if preamble != "" {
		system = system + "\n\n" + preamble
	}

	authOnlyRounds := 0

	for round := 1; round <= o.maxRounds; round++ {
		resp, err := o.model.Generate(ctx, &model.Request{
			System:   system,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return turns, fmt.Errorf("model call failed: %w", err)
		}

		if resp.Text != "" {
			if err := prod.Push(ctx, core.NewTextChunk(resp.Text)); err != nil {
				return turns, err
			}
		}

		if len(resp.ToolCalls) == 0 {
			turns = append(turns, core.Turn{Role: "assistant", Text: resp.Text})
			o.logger.Debug("orchestrator.final", "request_id", ictx.RequestID, "rounds", round)
			return turns, nil
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		authFailures := 0

		// Tool calls execute in the order the model requested them, protocol
		// and invoke targets interleaved alike; results merge in call order.
		for _, tc := range resp.ToolCalls {
			if err := prod.Push(ctx, core.NewToolInvocationChunk(tc.ID, tc.Name, tc.Arguments)); err != nil {
				return turns, err
			}

			result := o.dispatch(ictx, tc)

			if err := prod.Push(ctx, core.NewToolResultChunk(tc.ID, tc.Name, result.Value, result.Err)); err != nil {
				return turns, err
			}

			var authErr *core.AuthError
			if result.Err != nil && errors.As(result.Err, &authErr) {
				authFailures++
			}

			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				Text:       encodeToolResult(result),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})

			if ctx.Err() != nil {
				return turns, ctx.Err()
			}
		}

		if authFailures == len(resp.ToolCalls) {
			authOnlyRounds++
			if authOnlyRounds >= consecutiveAuthRoundLimit {
				return turns, &core.AuthError{Reason: "credentials rejected across all tool calls"}
			}
		} else {
			authOnlyRounds = 0
		}
	}

	return turns, core.ErrMaxRounds
}

// dispatch decodes the model's argument payload and routes the call. A payload
// the model got wrong fails the single call without touching any backend.
func (o *Orchestrator) dispatch(ictx *core.InvocationContext, tc model.ToolCall) gateway.ToolResult {
	args := map[string]any{}
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return gateway.ToolResult{Err: fmt.Errorf("malformed arguments for %s: %w", tc.Name, err)}
		}
	}

	return o.dispatcher.Dispatch(ictx, tc.Name, args)
}

// encodeToolResult renders the normalized result for the model. Failures are
// surfaced as structured tool errors so the model can adapt its plan.
func encodeToolResult(result gateway.ToolResult) string {
	if result.Err != nil {
		encoded, _ := json.Marshal(map[string]any{
			"error": result.Err.Error(),
			"code":  core.ErrorCode(result.Err),
		})
		return string(encoded)
	}

	encoded, err := json.Marshal(result.Value)
	if err != nil {
		return fmt.Sprintf("%v", result.Value)
	}

	return string(encoded)
}
