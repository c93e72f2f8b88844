package core

import (
	"context"
	"time"
)

// Strategy names an extraction/retention policy governing what a memory
// namespace stores and how long it persists. The extraction pipeline itself is
// the store's responsibility; this core only tags records.
type Strategy string

const (
	// StrategySemantic stores facts for embedding-based recall.
	StrategySemantic Strategy = "semantic"
	// StrategySummary stores rolling conversation summaries.
	StrategySummary Strategy = "summary"
	// StrategyUserPreference stores durable per-user preferences.
	StrategyUserPreference Strategy = "user-preference"
	// StrategyCustom covers deployment-specific extraction policies.
	StrategyCustom Strategy = "custom"
)

// MemoryRecord is one durable unit of cross-session context. Records are
// append-only from this core's perspective.
type MemoryRecord struct {
	Strategy  Strategy       `json:"strategy"`
	Namespace string         `json:"namespace"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Turn is one finalized user or assistant utterance.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// MemoryStore is the entire surface this core depends on for durable context.
// Namespaces passed in are always fully resolved (no residual placeholders).
// Implementations must be safe for concurrent use across invocations; writes
// from concurrent invocations need not be linearizable (append-only or
// last-write-wins is acceptable; the core never does read-modify-write).
type MemoryStore interface {
	// Store appends a record under the given strategy and namespace.
	Store(ctx context.Context, strategy Strategy, namespace, content string, metadata map[string]any) error

	// Retrieve returns up to topK records relevant to query within namespace,
	// most relevant first. The ranking policy belongs to the store.
	Retrieve(ctx context.Context, namespace, query string, topK int) ([]MemoryRecord, error)

	// RecentTurns returns the last k raw conversation turns for the
	// actor/session pair, oldest first.
	RecentTurns(ctx context.Context, actorID, sessionID string, k int) ([]Turn, error)
}
