package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentgate/core"
)

// InMemoryStore is a naive process-local core.MemoryStore. It offers:
//  1. Namespace-scoped append-only records with substring Retrieve
//  2. A per actor/session raw turn log backing RecentTurns
//
// Concurrency: protected by RWMutex.
// Retrieve: linear scan with substring matching (case insensitive) assigning a
// constant score of 1.0 to every hit, newest last. Suitable only for tests and
// demos; production deployments point the core at a real strategy-based store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]core.MemoryRecord // namespace -> append-only records
	turns   map[string][]core.Turn         // actorID/sessionID -> turn log
}

var _ core.MemoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]core.MemoryRecord),
		turns:   make(map[string][]core.Turn),
	}
}

// Store appends a record to the namespace. Raw turn writes into a turns/
// namespace also feed the RecentTurns log.
func (m *InMemoryStore) Store(_ context.Context, strategy core.Strategy, namespace, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[namespace] = append(m.records[namespace], core.MemoryRecord{
		Strategy:  strategy,
		Namespace: namespace,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	})

	if strings.HasPrefix(namespace, "turns/") && metadata != nil {
		actorID, _ := metadata["actor_id"].(string)
		sessionID, _ := metadata["session_id"].(string)
		role, _ := metadata["role"].(string)
		if actorID != "" && sessionID != "" && role != "" {
			key := turnKey(actorID, sessionID)
			m.turns[key] = append(m.turns[key], core.Turn{Role: role, Text: content})
		}
	}

	return nil
}

// Retrieve performs a simple substring match over the namespace's records.
// Every hit receives a constant score of 1.0, capped at topK.
func (m *InMemoryStore) Retrieve(_ context.Context, namespace, query string, topK int) ([]core.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]core.MemoryRecord, 0, topK)
	loweredQuery := strings.ToLower(query)

	for _, rec := range m.records[namespace] {
		if len(results) >= topK {
			break
		}
		if query == "" || strings.Contains(strings.ToLower(rec.Content), loweredQuery) {
			rec.Score = 1.0
			results = append(results, rec)
		}
	}

	return results, nil
}

// RecentTurns returns the last k turns for the actor/session pair, oldest
// first.
func (m *InMemoryStore) RecentTurns(_ context.Context, actorID, sessionID string, k int) ([]core.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.turns[turnKey(actorID, sessionID)]
	if len(log) > k {
		log = log[len(log)-k:]
	}

	out := make([]core.Turn, len(log))
	copy(out, log)

	return out, nil
}

func turnKey(actorID, sessionID string) string { return actorID + "/" + sessionID }
