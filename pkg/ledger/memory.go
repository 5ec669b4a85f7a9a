package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/careops/spine/pkg/contracts"
)

// MemoryStore keeps one hash-chained entry sequence per entity in memory.
// It is the primary store for tests and single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string]*chain
	clock  func() time.Time
}

type chain struct {
	entries  []contracts.LedgerEntry
	headHash string
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string]*chain),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, judgment contracts.Judgment) (contracts.LedgerEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chains[judgment.EntityID]
	if !ok {
		c = &chain{headHash: contracts.GenesisHash}
		s.chains[judgment.EntityID] = c
	}

	entry := contracts.LedgerEntry{
		Sequence:   uint64(len(c.entries)) + 1,
		EntityID:   judgment.EntityID,
		Judgment:   judgment,
		PrevHash:   c.headHash,
		AppendedAt: s.clock(),
	}
	if len(c.entries) > 0 {
		entry.PreviousClassification = c.entries[len(c.entries)-1].Judgment.Classification
	}

	hash, err := entryContentHash(entry)
	if err != nil {
		return contracts.LedgerEntry{}, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	entry.ContentHash = hash

	c.entries = append(c.entries, entry)
	c.headHash = hash
	return entry, nil
}

// History implements Store. Entries come back newest first.
func (s *MemoryStore) History(ctx context.Context, entityID string, limit int) ([]contracts.LedgerEntry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[entityID]
	if !ok {
		return nil, nil
	}

	n := len(c.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]contracts.LedgerEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.entries[i])
	}
	return out, nil
}

// Length returns the number of entries for an entity.
func (s *MemoryStore) Length(entityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.chains[entityID]; ok {
		return len(c.entries)
	}
	return 0
}

// Verify walks an entity's chain and checks every hash link. It returns
// false with a reason at the first broken link.
func (s *MemoryStore) Verify(entityID string) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[entityID]
	if !ok {
		return true, "empty chain"
	}

	prevHash := contracts.GenesisHash
	for i, entry := range c.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryContentHash(entry)
		if err != nil {
			return false, fmt.Sprintf("cannot hash entry %d: %v", i+1, err)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}
