// Package memory contains the strategy configuration, the namespace template
// resolution and the two-phase hook lifecycle (hydrate before the first model
// call, persist after the turn) that bracket every invocation. The store
// contract and record types reside in the core package; a process-local
// InMemoryStore is provided for tests and demos.
package memory
