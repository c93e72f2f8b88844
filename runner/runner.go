// Package runner is the invocation entry point. It creates the per-request
// InvocationContext, brackets the reasoning loop with the memory hooks, closes
// the stream with exactly one terminal or error chunk, and guarantees disposal
// on every exit path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentgate/agent"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/logging"
	"github.com/hupe1980/agentgate/memory"
	"github.com/hupe1980/agentgate/model"
)

// Request is one user turn to process.
type Request struct {
	ActorID   string
	SessionID string
	AuthToken string
	Text      string
}

// Options hold dependency and configuration overrides passed to New().
type Options struct {
	// QueueBuffer bounds each invocation's streaming queue.
	QueueBuffer int
	// InvocationTimeout bounds the hydrating → active → persisting sequence.
	InvocationTimeout time.Duration
	// Tools is the gateway tool vocabulary presented to the model, using
	// fully-qualified {target}___{tool} names.
	Tools []model.ToolDefinition
	// Logger receives runner-scoped log records.
	Logger logging.Logger
}

// Runner coordinates invocations: creates contexts, runs the hook lifecycle
// around the orchestrator, streams chunks, and tracks in-flight requests for
// cancellation. Public methods are safe for concurrent use.
type Runner struct {
	orchestrator *agent.Orchestrator
	hooks        *memory.Hooks
	memoryStore  core.MemoryStore

	queueBuffer       int
	invocationTimeout time.Duration
	tools             []model.ToolDefinition
	logger            logging.Logger

	activeRuns map[string]*core.InvocationContext
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(orchestrator *agent.Orchestrator, hooks *memory.Hooks, store core.MemoryStore, optFns ...func(o *Options)) *Runner {
	opts := Options{
		QueueBuffer:       core.DefaultQueueBuffer,
		InvocationTimeout: 2 * time.Minute,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		orchestrator:      orchestrator,
		hooks:             hooks,
		memoryStore:       store,
		queueBuffer:       opts.QueueBuffer,
		invocationTimeout: opts.InvocationTimeout,
		tools:             opts.Tools,
		logger:            opts.Logger,
		activeRuns:        make(map[string]*core.InvocationContext),
	}
}

// Run starts an asynchronous invocation. It returns the request id for
// cancellation plus the invocation's stream. A validation failure returns
// immediately with no partial side effects: no queue exists and no memory read
// was attempted.
func (r *Runner) Run(ctx context.Context, req Request) (string, *core.StreamQueue, error) {
	ictx, err := core.NewInvocationContext(
		ctx,
		core.RequestMetadata{ActorID: req.ActorID, SessionID: req.SessionID, AuthToken: req.AuthToken},
		r.memoryStore,
		func(o *core.InvocationOptions) {
			o.QueueBuffer = r.queueBuffer
			o.Timeout = r.invocationTimeout
			o.Logger = r.logger
		},
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create invocation context: %w", err)
	}

	prod, err := ictx.Queue.Producer()
	if err != nil {
		ictx.Dispose()
		return "", nil, err
	}

	r.mu.Lock()
	r.activeRuns[ictx.RequestID] = ictx
	r.mu.Unlock()

	go r.invoke(ictx, prod, req.Text)

	return ictx.RequestID, ictx.Queue, nil
}

// Cancel requests cooperative termination of an in-flight invocation.
// Cancelling an unknown or already finished request returns an error
// describing the condition.
func (r *Runner) Cancel(requestID string) error {
	r.mu.RLock()
	ictx, exists := r.activeRuns[requestID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("request %s not found", requestID)
	}

	ictx.Cancel()

	return nil
}

// invoke drives one invocation end to end. Disposal and stream closure are
// guaranteed regardless of how the loop exits.
func (r *Runner) invoke(ictx *core.InvocationContext, prod *core.StreamProducer, userText string) {
	defer func() {
		r.mu.Lock()
		delete(r.activeRuns, ictx.RequestID)
		r.mu.Unlock()

		ictx.Dispose()
	}()

	// No unhandled fault may leave the queue open indefinitely.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("runner.invocation.panic", "request_id", ictx.RequestID, "recover", rec)
			r.closeStream(ictx, prod, fmt.Errorf("internal error: %v", rec))
		}
	}()

	// A consumer disconnect unwinds every suspension point of the invocation.
	go func() {
		select {
		case <-ictx.Queue.Done():
			r.logger.Info("runner.consumer.disconnected", "request_id", ictx.RequestID)
			ictx.Cancel()
		case <-ictx.Done():
		}
	}()

	ictx.Advance(core.PhaseHydrating)
	preamble := r.hooks.OnHydrate(ictx, userText)

	ictx.Advance(core.PhaseActive)
	turns, runErr := r.orchestrator.Run(ictx, prod, preamble, userText, r.tools)

	// Persistence runs best-effort on every path, including deadline expiry
	// and cancellation: the hooks detach from the invocation's cancellation
	// and apply their own grace period.
	ictx.Advance(core.PhasePersisting)
	r.hooks.OnPersist(ictx, turns)

	r.closeStream(ictx, prod, runErr)
}

// closeStream delivers the single terminal or error chunk for the invocation.
func (r *Runner) closeStream(ictx *core.InvocationContext, prod *core.StreamProducer, runErr error) {
	if prod.Closed() {
		return
	}

	var final core.StreamChunk

	switch {
	case runErr == nil:
		final = core.NewTerminalChunk(core.TerminalCompleted)
	case errors.Is(runErr, core.ErrMaxRounds):
		// Gave up, but cleanly: a distinct terminal, not an error.
		final = core.NewTerminalChunk(core.TerminalMaxRounds)
	default:
		r.logger.Error("runner.invocation.failed", "request_id", ictx.RequestID, "error", runErr.Error())
		final = core.NewErrorChunk(runErr)
	}

	if err := prod.Close(final); err != nil {
		r.logger.Warn("runner.stream.close", "request_id", ictx.RequestID, "error", err.Error())
	}
}
