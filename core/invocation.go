package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentgate/internal/util"
	"github.com/hupe1980/agentgate/logging"
)

// Phase tracks the invocation state machine:
// created → hydrating → active → persisting → closed.
// Hydrating and persisting failures degrade gracefully and move the machine
// forward; only active failures terminate the invocation early.
type Phase int32

const (
	// PhaseCreated is the initial state after successful context creation.
	PhaseCreated Phase = iota
	// PhaseHydrating covers the pre-invocation memory read.
	PhaseHydrating
	// PhaseActive covers the reasoning/tool-call loop.
	PhaseActive
	// PhasePersisting covers the post-turn memory write.
	PhasePersisting
	// PhaseClosed is the final state after disposal.
	PhaseClosed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseHydrating:
		return "hydrating"
	case PhaseActive:
		return "active"
	case PhasePersisting:
		return "persisting"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RequestMetadata carries the caller-supplied coordinates of one request.
type RequestMetadata struct {
	// ActorID identifies the user on whose behalf the request runs.
	ActorID string
	// SessionID identifies the conversation.
	SessionID string
	// AuthToken is the bearer credential scoped to this request's gateway
	// calls. Forwarded unchanged to protocol targets, never to invoke targets.
	AuthToken string
}

func (m RequestMetadata) validate() error {
	if strings.TrimSpace(m.ActorID) == "" {
		return fmt.Errorf("%w: actor id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(m.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(m.AuthToken) == "" {
		return fmt.Errorf("%w: auth token is required", ErrInvalidRequest)
	}
	return nil
}

// InvocationContext owns all per-request mutable state for the lifetime of one
// request: identity coordinates, the bearer token, the output queue and the
// memory handle. It is exclusively owned by the handling goroutine, never
// persisted and never shared between concurrent requests: two rapid messages
// from the same actor/session get two fully independent contexts.
type InvocationContext struct {
	RequestID string
	ActorID   string
	SessionID string
	AuthToken string

	// Queue is this invocation's streaming output sink, exclusively owned.
	Queue *StreamQueue

	// Memory is the configured store handle. Read during hydration, written
	// during persistence; both best-effort.
	Memory MemoryStore

	Logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	phase       atomic.Int32
	disposeOnce sync.Once
}

// InvocationOptions tune context construction.
type InvocationOptions struct {
	// QueueBuffer bounds the streaming queue (backpressure threshold).
	QueueBuffer int
	// Timeout bounds the whole hydrating → active → persisting sequence.
	// Zero means no invocation-level deadline.
	Timeout time.Duration
	// Logger receives invocation-scoped log records.
	Logger logging.Logger
}

// NewInvocationContext validates the request metadata and assembles a fresh
// context. Validation failures return before any side effect: no queue is
// allocated and no memory read is attempted.
func NewInvocationContext(
	parent context.Context,
	meta RequestMetadata,
	memory MemoryStore,
	optFns ...func(o *InvocationOptions),
) (*InvocationContext, error) {
	opts := InvocationOptions{
		QueueBuffer: DefaultQueueBuffer,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := meta.validate(); err != nil {
		return nil, err
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	return &InvocationContext{
		RequestID: util.NewID(),
		ActorID:   meta.ActorID,
		SessionID: meta.SessionID,
		AuthToken: meta.AuthToken,
		Queue:     NewStreamQueue(opts.QueueBuffer),
		Memory:    memory,
		Logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Context returns the cancellation context bounding this invocation. All
// suspension points (model call, protocol call, invoke call, queue
// backpressure) select on it.
func (ic *InvocationContext) Context() context.Context { return ic.ctx }

// Done mirrors context.Context's Done.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.ctx.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ic *InvocationContext) Err() error { return ic.ctx.Err() }

// Cancel unwinds every suspension point of the invocation. Used when the
// consumer disconnects mid-stream.
func (ic *InvocationContext) Cancel() { ic.cancel() }

// Phase returns the current lifecycle phase.
func (ic *InvocationContext) Phase() Phase { return Phase(ic.phase.Load()) }

// Advance moves the state machine forward. Backward transitions are ignored;
// the machine only progresses toward closed.
func (ic *InvocationContext) Advance(next Phase) {
	for {
		cur := ic.phase.Load()
		if int32(next) <= cur {
			return
		}
		if ic.phase.CompareAndSwap(cur, int32(next)) {
			ic.Logger.Debug("invocation.phase", "request_id", ic.RequestID, "phase", next.String())
			return
		}
	}
}

// Dispose releases the invocation: cancels the context and marks the state
// machine closed. It must run on every exit path (normal completion, tool-loop
// failure, client cancellation, timeout) and is safe to call more than once.
func (ic *InvocationContext) Dispose() {
	ic.disposeOnce.Do(func() {
		ic.cancel()
		ic.phase.Store(int32(PhaseClosed))
		ic.Logger.Debug("invocation.disposed", "request_id", ic.RequestID)
	})
}
