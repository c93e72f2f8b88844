// Package agentgate provides a high-level façade over the invocation core:
// the gateway dispatcher, the memory hook lifecycle and the runner. Most
// applications interact with this package by:
//  1. Creating an AgentGate via New() with a model, a target registry and a
//     memory store (optionally overriding budgets and logging)
//  2. Invoking user turns asynchronously (Run) or synchronously (RunSync)
//
// The façade delegates orchestration to runner.Runner while keeping setup and
// usage ergonomics concise. Defaults are safe for local development; production
// deployments supply a durable memory store and a structured logger.
package agentgate

import (
	"context"
	"time"

	"github.com/hupe1980/agentgate/agent"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/gateway"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/memory"
	"github.com/hupe1980/agentgate/model"
	"github.com/hupe1980/agentgate/runner"
)

// Options configure the AgentGate instance.
type Options struct {
	// Instruction is the agent's static system prompt.
	Instruction string
	// Tools is the fully-qualified tool vocabulary presented to the model.
	Tools []model.ToolDefinition
	// Strategies is the memory strategy set with namespace templates.
	Strategies []memory.StrategyConfig
	// MemoryStore defaults to an in-memory implementation if not provided.
	MemoryStore core.MemoryStore
	// MaxRounds bounds tool-call rounds per invocation.
	MaxRounds int
	// InvocationTimeout bounds one whole invocation.
	InvocationTimeout time.Duration
	// QueueBuffer bounds each invocation's streaming queue.
	QueueBuffer int
	// Logger defaults to NoOp if nil.
	Logger logging.Logger
	// DispatcherOptions forward to the gateway dispatcher (retry policy,
	// per-call deadline, HTTP client).
	DispatcherOptions []func(o *gateway.Options)
}

// AgentGate aggregates the orchestrator, hooks and runner behind one handle.
type AgentGate struct {
	runner     *runner.Runner
	dispatcher *gateway.Dispatcher
}

// New wires an agent from a model and an immutable target registry.
func New(m model.Model, registry *gateway.Registry, optFns ...func(o *Options)) (*AgentGate, error) {
	opts := Options{
		Instruction:       "You are a helpful AI assistant.",
		MemoryStore:       memory.NewInMemoryStore(),
		MaxRounds:         10,
		InvocationTimeout: 2 * time.Minute,
		QueueBuffer:       core.DefaultQueueBuffer,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	dispatcher := gateway.NewDispatcher(registry, append([]func(o *gateway.Options){
		func(o *gateway.Options) { o.Logger = opts.Logger },
	}, opts.DispatcherOptions...)...)

	orchestrator := agent.New(m, dispatcher, func(o *agent.Options) {
		o.MaxRounds = opts.MaxRounds
		o.Instruction = opts.Instruction
		o.Logger = opts.Logger
	})

	hooks, err := memory.NewHooks(opts.MemoryStore, opts.Strategies, func(o *memory.HooksOptions) {
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	r := runner.New(orchestrator, hooks, opts.MemoryStore, func(o *runner.Options) {
		o.QueueBuffer = opts.QueueBuffer
		o.InvocationTimeout = opts.InvocationTimeout
		o.Tools = opts.Tools
		o.Logger = opts.Logger
	})

	return &AgentGate{runner: r, dispatcher: dispatcher}, nil
}

// Run starts an asynchronous invocation returning the request id and stream.
func (g *AgentGate) Run(ctx context.Context, req runner.Request) (string, *core.StreamQueue, error) {
	return g.runner.Run(ctx, req)
}

// Cancel requests cooperative termination of an in-flight invocation.
func (g *AgentGate) Cancel(requestID string) error {
	return g.runner.Cancel(requestID)
}

// RunSync is a synchronous helper that drains the stream and returns all
// chunks in delivery order. The last chunk is the terminal or error chunk.
func (g *AgentGate) RunSync(ctx context.Context, req runner.Request) (string, []core.StreamChunk, error) {
	requestID, queue, err := g.runner.Run(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var chunks []core.StreamChunk

	for {
		select {
		case <-ctx.Done():
			queue.Cancel()
			return requestID, chunks, ctx.Err()
		case chunk, ok := <-queue.Chunks():
			if !ok {
				return requestID, chunks, nil
			}
			chunks = append(chunks, chunk)
		}
	}
}
