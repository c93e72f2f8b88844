// Package core contains the domain contracts of AgentGate: the per-request
// InvocationContext, the StreamQueue that bridges the synchronous reasoning
// loop to the chunked response transport, the StreamChunk taxonomy, the
// MemoryStore boundary and the shared error types.
//
// Everything in this package is invocation-scoped. The only values shared
// between concurrent invocations are read-mostly collaborators (a MemoryStore
// implementation and the gateway's target registry); all mutable state lives
// inside exactly one InvocationContext and is discarded when the response
// stream terminates.
package core
