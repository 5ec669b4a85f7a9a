package contracts

import "time"

// LedgerEntry is one appended judgment, hash-chained to its predecessor
// within the same entity's history. Entries are written on every pass,
// including self-transitions, so "still CRITICAL" is observable and
// silence is never mistaken for improvement.
type LedgerEntry struct {
	// Sequence is 1-based within the entity's chain.
	Sequence uint64 `json:"sequence"`

	EntityID string   `json:"entity_id"`
	Judgment Judgment `json:"judgment"`

	// PreviousClassification is the classification of the entry this one
	// supersedes, empty for the first entry of an entity.
	PreviousClassification Classification `json:"previous_classification,omitempty"`

	PrevHash    string    `json:"prev_hash"`
	ContentHash string    `json:"content_hash"`
	AppendedAt  time.Time `json:"appended_at"`
}

// GenesisHash anchors the first entry of every entity chain.
const GenesisHash = "genesis"
