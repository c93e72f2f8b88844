package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgate/agent"
	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/gateway"
	"github.com/hupe1980/agentgate/memory"
	"github.com/hupe1980/agentgate/model"
)

// scriptedModel replays responses; with block set it parks until cancellation.
type scriptedModel struct {
	responses []*model.Response
	block     bool
	started   chan struct{}
}

func (m *scriptedModel) Generate(ctx context.Context, _ *model.Request) (*model.Response, error) {
	if m.block {
		if m.started != nil {
			close(m.started)
			m.started = nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(m.responses) == 0 {
		return &model.Response{Text: "done"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

type staticDispatcher struct {
	result gateway.ToolResult
}

func (d *staticDispatcher) Dispatch(*core.InvocationContext, string, map[string]any) gateway.ToolResult {
	return d.result
}

// failingStore errors on every operation, simulating a memory outage.
type failingStore struct{}

func (failingStore) Store(context.Context, core.Strategy, string, string, map[string]any) error {
	return errors.New("memory outage")
}

func (failingStore) Retrieve(context.Context, string, string, int) ([]core.MemoryRecord, error) {
	return nil, errors.New("memory outage")
}

func (failingStore) RecentTurns(context.Context, string, string, int) ([]core.Turn, error) {
	return nil, errors.New("memory outage")
}

func newTestRunner(t *testing.T, m model.Model, dispatcher agent.Dispatcher, store core.MemoryStore, optFns ...func(o *Options)) *Runner {
	t.Helper()

	orchestrator := agent.New(m, dispatcher, func(o *agent.Options) { o.MaxRounds = 3 })

	hooks, err := memory.NewHooks(store, nil)
	require.NoError(t, err)

	return New(orchestrator, hooks, store, optFns...)
}

func validRequest() Request {
	return Request{ActorID: "actor-1", SessionID: "session-1", AuthToken: "tok", Text: "hello"}
}

func collect(t *testing.T, queue *core.StreamQueue) []core.StreamChunk {
	t.Helper()

	var chunks []core.StreamChunk
	timeout := time.After(5 * time.Second)

	for {
		select {
		case c, ok := <-queue.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatalf("stream never closed; got %d chunks", len(chunks))
		}
	}
}

func TestRunner_EndToEndStreamOrdering(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{
			Text:      "checking",
			ToolCalls: []model.ToolCall{{ID: "c1", Name: "Datadog___query-metrics", Arguments: json.RawMessage(`{}`)}},
		},
		{Text: "all good"},
	}}
	d := &staticDispatcher{result: gateway.ToolResult{OK: true, Value: "metrics"}}

	r := newTestRunner(t, m, d, memory.NewInMemoryStore())

	requestID, queue, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, requestID)

	chunks := collect(t, queue)

	kinds := make([]core.ChunkKind, len(chunks))
	for i, c := range chunks {
		kinds[i] = c.Kind
	}
	assert.Equal(t, []core.ChunkKind{
		core.ChunkPartialText,
		core.ChunkToolInvocation,
		core.ChunkToolResult,
		core.ChunkPartialText,
		core.ChunkTerminal,
	}, kinds)

	// Exactly one final chunk, last, completed.
	finals := 0
	for _, c := range chunks {
		if c.IsFinal() {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
	assert.Equal(t, core.TerminalCompleted, chunks[len(chunks)-1].Reason)

	// Strictly increasing seq with no gaps.
	for i, c := range chunks {
		assert.Equal(t, uint64(i+1), c.Seq)
	}
}

func TestRunner_ValidationFailureHasNoSideEffects(t *testing.T) {
	r := newTestRunner(t, &scriptedModel{}, &staticDispatcher{}, memory.NewInMemoryStore())

	requestID, queue, err := r.Run(context.Background(), Request{SessionID: "s", AuthToken: "t", Text: "x"})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
	assert.Empty(t, requestID)
	assert.Nil(t, queue)
}

func TestRunner_MemoryOutageStillCompletes(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{{Text: "answer without context"}}}

	r := newTestRunner(t, m, &staticDispatcher{}, failingStore{})

	_, queue, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	chunks := collect(t, queue)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, core.ChunkTerminal, last.Kind)
	assert.Equal(t, core.TerminalCompleted, last.Reason, "memory degradation never fails the invocation")
}

func TestRunner_MaxRoundsYieldsDistinctTerminal(t *testing.T) {
	loop := &model.Response{ToolCalls: []model.ToolCall{{ID: "c", Name: "Datadog___q", Arguments: json.RawMessage(`{}`)}}}
	m := &scriptedModel{responses: []*model.Response{loop, loop, loop}}

	r := newTestRunner(t, m, &staticDispatcher{result: gateway.ToolResult{OK: true, Value: "x"}}, memory.NewInMemoryStore())

	_, queue, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	chunks := collect(t, queue)
	last := chunks[len(chunks)-1]

	assert.Equal(t, core.ChunkTerminal, last.Kind, "round exhaustion is a terminal, not an error")
	assert.Equal(t, core.TerminalMaxRounds, last.Reason)
}

func TestRunner_ToolFailureSurfacesAsErrorChunkOnlyWhenFatal(t *testing.T) {
	// Routing failures feed back to the model; the invocation still completes.
	m := &scriptedModel{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c", Name: "Unknown___tool", Arguments: json.RawMessage(`{}`)}}},
		{Text: "worked around it"},
	}}
	d := &staticDispatcher{result: gateway.ToolResult{Err: &core.RoutingError{Name: "Unknown", Reason: "unknown target"}}}

	r := newTestRunner(t, m, d, memory.NewInMemoryStore())

	_, queue, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	chunks := collect(t, queue)
	last := chunks[len(chunks)-1]
	assert.Equal(t, core.ChunkTerminal, last.Kind)
	assert.Equal(t, core.TerminalCompleted, last.Reason)
}

func TestRunner_CancelMidStream(t *testing.T) {
	started := make(chan struct{})
	m := &scriptedModel{block: true, started: started}

	r := newTestRunner(t, m, &staticDispatcher{}, memory.NewInMemoryStore())

	requestID, queue, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("invocation never reached the model")
	}

	require.NoError(t, r.Cancel(requestID))

	chunks := collect(t, queue)
	require.NotEmpty(t, chunks, "cancellation still closes the stream with a final chunk")

	last := chunks[len(chunks)-1]
	assert.Equal(t, core.ChunkError, last.Kind)
	assert.Equal(t, "CANCELLED", last.ErrorCode)

	// The finished request is deregistered.
	require.Eventually(t, func() bool {
		return r.Cancel(requestID) != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_CancelUnknownRequest(t *testing.T) {
	r := newTestRunner(t, &scriptedModel{}, &staticDispatcher{}, memory.NewInMemoryStore())

	err := r.Cancel("no-such-request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunner_ConsumerDisconnectAbandonsInvocation(t *testing.T) {
	started := make(chan struct{})
	m := &scriptedModel{block: true, started: started}

	r := newTestRunner(t, m, &staticDispatcher{}, memory.NewInMemoryStore())

	_, queue, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("invocation never reached the model")
	}

	queue.Cancel()

	// The producer abandons the invocation and the channel closes; any final
	// chunk is discarded since nobody is listening.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-queue.Chunks():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream never closed after consumer disconnect")
		}
	}
}

func TestRunner_InvocationTimeout(t *testing.T) {
	m := &scriptedModel{block: true}

	r := newTestRunner(t, m, &staticDispatcher{}, memory.NewInMemoryStore(), func(o *Options) {
		o.InvocationTimeout = 50 * time.Millisecond
	})

	_, queue, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	chunks := collect(t, queue)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, core.ChunkError, last.Kind)
	assert.Equal(t, "DEADLINE_EXCEEDED", last.ErrorCode)
}

func TestRunner_ConcurrentInvocationsAreIsolated(t *testing.T) {
	m := &scriptedModel{}
	r := newTestRunner(t, m, &staticDispatcher{}, memory.NewInMemoryStore())

	idA, queueA, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	idB, queueB, err := r.Run(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)

	chunksA := collect(t, queueA)
	chunksB := collect(t, queueB)

	assert.Equal(t, core.ChunkTerminal, chunksA[len(chunksA)-1].Kind)
	assert.Equal(t, core.ChunkTerminal, chunksB[len(chunksB)-1].Kind)
}
