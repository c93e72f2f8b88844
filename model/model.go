// Package model defines the vendor-neutral boundary between the reasoning
// loop and concrete LLM providers. Adapters for the official OpenAI and
// Anthropic SDKs live in subpackages.
package model

import (
	"context"
	"encoding/json"
)

// Role labels a conversation message.
type Role string

const (
	// RoleUser marks caller-authored input.
	RoleUser Role = "user"
	// RoleAssistant marks model output, including tool-call requests.
	RoleAssistant Role = "assistant"
	// RoleTool marks a tool result fed back to the model.
	RoleTool Role = "tool"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider
// branching.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected). Name is the fully-qualified gateway name ({target}___{tool}).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one normalized conversation entry.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text,omitempty"`

	// ToolCalls is set on assistant messages requesting tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool messages carrying a result.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// Request captures the normalized model input produced by the orchestrator.
type Request struct {
	// System is the instruction plus the memory-hydrated contextual preamble.
	System string
	// Messages is the conversation so far, including tool exchanges.
	Messages []Message
	// Tools lists the gateway's tool vocabulary.
	Tools []ToolDefinition
}

// Response is the model's decision for one reasoning round: final text,
// requested tool calls, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Model is the minimal generation contract the orchestrator depends on.
type Model interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}
