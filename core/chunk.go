package core

import (
	"encoding/json"
	"time"
)

// ChunkKind categorizes a StreamChunk.
type ChunkKind string

const (
	// ChunkPartialText carries an incremental fragment of assistant text.
	ChunkPartialText ChunkKind = "partial-text"
	// ChunkToolInvocation announces that a tool call is about to be dispatched.
	ChunkToolInvocation ChunkKind = "tool-invocation"
	// ChunkToolResult carries the normalized outcome of a dispatched tool call.
	ChunkToolResult ChunkKind = "tool-result"
	// ChunkTerminal closes the stream on a non-error outcome.
	ChunkTerminal ChunkKind = "terminal"
	// ChunkError closes the stream on an unrecoverable invocation failure.
	ChunkError ChunkKind = "error"
)

// TerminalReason distinguishes how an invocation reached its terminal chunk.
type TerminalReason string

const (
	// TerminalCompleted means the model produced a final answer.
	TerminalCompleted TerminalReason = "completed"
	// TerminalMaxRounds means the reasoning loop hit the configured tool-call
	// round budget before converging. Reported distinctly so callers can tell
	// "answered" from "gave up".
	TerminalMaxRounds TerminalReason = "max-rounds"
)

// StreamChunk is the atomic unit of incremental response delivery. Chunks for
// one request are delivered in strictly increasing Seq order and the stream is
// closed by exactly one terminal or error chunk.
type StreamChunk struct {
	Seq       uint64    `json:"seq"`
	Kind      ChunkKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Text is set for partial-text chunks.
	Text string `json:"text,omitempty"`

	// Tool call fields, set for tool-invocation and tool-result chunks.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     any             `json:"result,omitempty"`

	// Reason is set for terminal chunks.
	Reason TerminalReason `json:"reason,omitempty"`

	// Error fields, set for error chunks and failed tool-result chunks.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewTextChunk creates a partial-text chunk. Seq is assigned on push.
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{Kind: ChunkPartialText, Text: text, Timestamp: time.Now().UTC()}
}

// NewToolInvocationChunk announces a tool dispatch for caller visibility.
func NewToolInvocationChunk(callID, toolName string, args json.RawMessage) StreamChunk {
	return StreamChunk{
		Kind:       ChunkToolInvocation,
		ToolCallID: callID,
		ToolName:   toolName,
		Arguments:  args,
		Timestamp:  time.Now().UTC(),
	}
}

// NewToolResultChunk records the outcome of a dispatched tool call. A non-nil
// err marks the result as failed without terminating the stream.
func NewToolResultChunk(callID, toolName string, result any, err error) StreamChunk {
	c := StreamChunk{
		Kind:       ChunkToolResult,
		ToolCallID: callID,
		ToolName:   toolName,
		Result:     result,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		c.ErrorCode = ErrorCode(err)
		c.ErrorMessage = err.Error()
	}
	return c
}

// NewTerminalChunk creates the single terminal chunk closing a stream.
func NewTerminalChunk(reason TerminalReason) StreamChunk {
	return StreamChunk{Kind: ChunkTerminal, Reason: reason, Timestamp: time.Now().UTC()}
}

// NewErrorChunk creates the single error chunk closing a failed stream.
func NewErrorChunk(err error) StreamChunk {
	return StreamChunk{
		Kind:         ChunkError,
		ErrorCode:    ErrorCode(err),
		ErrorMessage: err.Error(),
		Timestamp:    time.Now().UTC(),
	}
}

// IsFinal reports whether the chunk closes its stream.
func (c StreamChunk) IsFinal() bool {
	return c.Kind == ChunkTerminal || c.Kind == ChunkError
}
