package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemory creates a concurrency-safe in-memory ledger store used in
// unit tests and when the service runs without a database.
func NewInMemory() Store {
	return &inMemoryStore{}
}

func (s *inMemoryStore) RecordTopUp(_ context.Context, ref string, amount decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error) {
	return s.append(ref, amount.Abs(), reason, metadata)
}

func (s *inMemoryStore) RecordUsage(_ context.Context, ref string, amount decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error) {
	return s.append(ref, amount.Abs().Neg(), reason, metadata)
}

func (s *inMemoryStore) RecordFailure(_ context.Context, source string, payload map[string]any, cause error) (uuid.UUID, error) {
	return s.append(FailureRef(source), decimal.Zero, FailureReason(source), failureMetadata(payload, cause))
}

func (s *inMemoryStore) Balance(_ context.Context, ref string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := decimal.Zero
	for _, entry := range s.entries {
		if entry.Ref == ref {
			balance = balance.Add(entry.Delta)
		}
	}
	return balance, nil
}

func (s *inMemoryStore) append(ref string, delta decimal.Decimal, reason string, metadata map[string]any) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Ref:       ref,
		Delta:     delta,
		Reason:    reason,
		Metadata:  metadata,
	}
	s.entries = append(s.entries, entry)
	return entry.ID, nil
}
