// Package ledger is the append-only history of emitted judgments, one
// hash-chained sequence per entity.
//
// The public contract has no update and no delete. Every evaluation
// appends, including self-transitions, so "still CRITICAL" stays
// observable and silence is never mistaken for improvement. Trend and
// days-in-state are always derived from the newest entry here; no
// separately-mutable "current state" exists anywhere.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/careops/spine/pkg/contracts"
)

// ErrAppendFailed wraps any storage failure during append. The judgment
// is not considered emitted until the append succeeds; callers retry the
// whole evaluation, not just the append.
var ErrAppendFailed = errors.New("ledger: append failed")

// Store is the persistence contract for the judgment ledger.
type Store interface {
	// Append writes the next entry for the judgment's entity and returns
	// it with sequence, previous classification, and chain hashes filled.
	Append(ctx context.Context, judgment contracts.Judgment) (contracts.LedgerEntry, error)

	// History returns up to limit entries for the entity, newest first.
	// limit <= 0 means no limit.
	History(ctx context.Context, entityID string, limit int) ([]contracts.LedgerEntry, error)
}

// entryContentHash computes the chain hash of an entry: the canonical
// hash of its judgment content, sequence, and predecessor hash.
func entryContentHash(entry contracts.LedgerEntry) (string, error) {
	input := struct {
		Sequence  uint64             `json:"sequence"`
		EntityID  string             `json:"entity_id"`
		Judgment  contracts.Judgment `json:"judgment"`
		PrevHash  string             `json:"prev_hash"`
		PrevClass string             `json:"prev_class"`
	}{
		Sequence:  entry.Sequence,
		EntityID:  entry.EntityID,
		Judgment:  entry.Judgment,
		PrevHash:  entry.PrevHash,
		PrevClass: string(entry.PreviousClassification),
	}
	hash, err := contracts.CanonicalHash(input)
	if err != nil {
		return "", fmt.Errorf("ledger: hash entry: %w", err)
	}
	return hash, nil
}
