package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/logging"
)

// HooksOptions configure the hook lifecycle.
type HooksOptions struct {
	// TopK bounds records retrieved per namespace during hydration.
	TopK int
	// RecentTurns bounds raw conversation turns prepended to the preamble.
	RecentTurns int
	// PersistGrace bounds post-turn persistence independently of the
	// invocation deadline, so a timed-out invocation still gets a best-effort
	// write before disposal.
	PersistGrace time.Duration
	// Logger receives the degradation records that never reach the caller.
	Logger logging.Logger
}

// Hooks implements the two lifecycle callbacks bracketing the reasoning loop:
// OnHydrate before the first model call, OnPersist after the turn finalizes.
// Both are best-effort: memory failures degrade the preamble or drop the write
// and are observable only via logs. An invocation never fails because
// historical context could not be loaded or saved.
type Hooks struct {
	store      core.MemoryStore
	strategies []StrategyConfig

	topK         int
	recentTurns  int
	persistGrace time.Duration
	logger       logging.Logger

	wg sync.WaitGroup
}

// NewHooks validates the strategy set eagerly: a broken namespace template is
// a fatal configuration error at startup, not a runtime degradation.
func NewHooks(store core.MemoryStore, strategies []StrategyConfig, optFns ...func(o *HooksOptions)) (*Hooks, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}

	for _, sc := range strategies {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
	}

	opts := HooksOptions{
		TopK:         5,
		RecentTurns:  10,
		PersistGrace: 3 * time.Second,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Hooks{
		store:        store,
		strategies:   strategies,
		topK:         opts.TopK,
		recentTurns:  opts.RecentTurns,
		persistGrace: opts.PersistGrace,
		logger:       opts.Logger,
	}, nil
}

// OnHydrate assembles the model's contextual preamble for the current user
// turn: recent raw turns for continuity, then the topK relevant records per
// configured namespace in declaration order (relevance order within each
// namespace, as ranked by the store). Every store failure is logged and
// skipped; the preamble may come back partial or empty.
func (h *Hooks) OnHydrate(ictx *core.InvocationContext, userText string) string {
	ctx := ictx.Context()

	var sb strings.Builder

	turns, err := h.store.RecentTurns(ctx, ictx.ActorID, ictx.SessionID, h.recentTurns)
	if err != nil {
		h.degraded(ictx, &core.MemoryDegradedError{Op: "recent-turns", Err: err})
	} else if len(turns) > 0 {
		sb.WriteString("Previous conversation:\n")
		for _, t := range turns {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Text)
		}
	}

	for _, sc := range h.strategies {
		for _, tmpl := range sc.Namespaces {
			ns, err := ResolveNamespace(tmpl, ictx.ActorID, ictx.SessionID)
			if err != nil {
				// Validated at construction; only reachable with empty
				// identity coordinates, which context creation rejects.
				h.degraded(ictx, &core.MemoryDegradedError{Op: "retrieve", Namespace: tmpl, Err: err})
				continue
			}

			records, err := h.store.Retrieve(ctx, ns, userText, h.topK)
			if err != nil {
				h.degraded(ictx, &core.MemoryDegradedError{Op: "retrieve", Namespace: ns, Err: err})
				continue
			}

			if len(records) == 0 {
				continue
			}

			fmt.Fprintf(&sb, "Relevant %s memory:\n", sc.Strategy)
			for _, rec := range records {
				fmt.Fprintf(&sb, "- %s\n", rec.Content)
			}
		}
	}

	return sb.String()
}

// OnPersist persists the finalized turns. The raw turns are written
// synchronously (bounded by the grace period, detached from the invocation's
// cancellation so a timed-out request still persists best-effort); per-strategy
// extraction records are emitted asynchronously and never delay stream
// delivery. All failures are logged and swallowed.
func (h *Hooks) OnPersist(ictx *core.InvocationContext, turns []core.Turn) {
	if len(turns) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ictx.Context()), h.persistGrace)

	turnsNS, err := ResolveNamespace(TurnsNamespaceTemplate, ictx.ActorID, ictx.SessionID)
	if err != nil {
		h.degraded(ictx, &core.MemoryDegradedError{Op: "store", Namespace: TurnsNamespaceTemplate, Err: err})
		cancel()
		return
	}

	for _, t := range turns {
		md := map[string]any{"role": t.Role, "actor_id": ictx.ActorID, "session_id": ictx.SessionID}
		if err := h.store.Store(ctx, core.StrategyCustom, turnsNS, t.Text, md); err != nil {
			h.degraded(ictx, &core.MemoryDegradedError{Op: "store", Namespace: turnsNS, Err: err})
		}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		h.extract(ctx, ictx, turns)
	}()
}

// extract emits one record per applicable strategy namespace. Applicability is
// a thin filter here (user-preference extraction only considers user turns);
// the store's own pipeline does the heavy lifting.
func (h *Hooks) extract(ctx context.Context, ictx *core.InvocationContext, turns []core.Turn) {
	for _, sc := range h.strategies {
		for _, tmpl := range sc.Namespaces {
			ns, err := ResolveNamespace(tmpl, ictx.ActorID, ictx.SessionID)
			if err != nil {
				h.degraded(ictx, &core.MemoryDegradedError{Op: "store", Namespace: tmpl, Err: err})
				continue
			}

			for _, t := range turns {
				if sc.Strategy == core.StrategyUserPreference && t.Role != "user" {
					continue
				}

				md := map[string]any{"role": t.Role, "request_id": ictx.RequestID}
				if err := h.store.Store(ctx, sc.Strategy, ns, t.Text, md); err != nil {
					h.degraded(ictx, &core.MemoryDegradedError{Op: "store", Namespace: ns, Err: err})
				}
			}
		}
	}
}

// Flush waits for in-flight asynchronous extraction. Intended for shutdown
// paths and tests.
func (h *Hooks) Flush() { h.wg.Wait() }

func (h *Hooks) degraded(ictx *core.InvocationContext, err *core.MemoryDegradedError) {
	h.logger.Warn(
		"memory.degraded",
		"request_id", ictx.RequestID,
		"op", err.Op,
		"namespace", err.Namespace,
		"error", err.Err.Error(),
	)
}
