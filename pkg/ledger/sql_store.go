package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/careops/spine/pkg/contracts"
)

// SQLStore persists the ledger through database/sql. It works against
// both SQLite (modernc.org/sqlite, driver "sqlite") and Postgres
// (lib/pq, driver "postgres"); numbered placeholders are accepted by
// both.
//
// The schema has no UPDATE or DELETE path; the unique (entity_id, seq)
// key makes a racing double-append fail instead of forking the chain.
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLStore wraps an opened database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS judgment_ledger (
	entity_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	classification TEXT NOT NULL,
	previous_classification TEXT NOT NULL DEFAULT '',
	judgment TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	appended_at TIMESTAMP NOT NULL,
	PRIMARY KEY (entity_id, seq)
);
`

// Init creates the ledger table.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqlSchema)
	return err
}

// Append implements Store. The head read and the insert are not wrapped
// in a transaction here because the engine serializes appends per entity;
// the primary key still rejects a forked chain if that discipline is
// ever violated.
func (s *SQLStore) Append(ctx context.Context, judgment contracts.Judgment) (contracts.LedgerEntry, error) {
	headSeq, headHash, headClass, err := s.head(ctx, judgment.EntityID)
	if err != nil {
		return contracts.LedgerEntry{}, fmt.Errorf("%w: read head: %v", ErrAppendFailed, err)
	}

	entry := contracts.LedgerEntry{
		Sequence:               headSeq + 1,
		EntityID:               judgment.EntityID,
		Judgment:               judgment,
		PreviousClassification: headClass,
		PrevHash:               headHash,
		AppendedAt:             s.clock(),
	}
	hash, err := entryContentHash(entry)
	if err != nil {
		return contracts.LedgerEntry{}, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	entry.ContentHash = hash

	body, err := json.Marshal(judgment)
	if err != nil {
		return contracts.LedgerEntry{}, fmt.Errorf("%w: marshal judgment: %v", ErrAppendFailed, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO judgment_ledger
			(entity_id, seq, classification, previous_classification, judgment, prev_hash, content_hash, appended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.EntityID, entry.Sequence, string(judgment.Classification),
		string(entry.PreviousClassification), string(body),
		entry.PrevHash, entry.ContentHash, entry.AppendedAt,
	)
	if err != nil {
		return contracts.LedgerEntry{}, fmt.Errorf("%w: insert: %v", ErrAppendFailed, err)
	}
	return entry, nil
}

func (s *SQLStore) head(ctx context.Context, entityID string) (uint64, string, contracts.Classification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, content_hash, classification
		FROM judgment_ledger
		WHERE entity_id = $1
		ORDER BY seq DESC
		LIMIT 1`, entityID)

	var (
		seq   uint64
		hash  string
		class string
	)
	err := row.Scan(&seq, &hash, &class)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, contracts.GenesisHash, "", nil
	}
	if err != nil {
		return 0, "", "", err
	}
	return seq, hash, contracts.Classification(class), nil
}

// History implements Store.
func (s *SQLStore) History(ctx context.Context, entityID string, limit int) ([]contracts.LedgerEntry, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, previous_classification, judgment, prev_hash, content_hash, appended_at
		FROM judgment_ledger
		WHERE entity_id = $1
		ORDER BY seq DESC
		LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.LedgerEntry
	for rows.Next() {
		var (
			entry     contracts.LedgerEntry
			prevClass string
			body      string
		)
		if err := rows.Scan(&entry.Sequence, &prevClass, &body, &entry.PrevHash, &entry.ContentHash, &entry.AppendedAt); err != nil {
			return nil, fmt.Errorf("ledger: history scan: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &entry.Judgment); err != nil {
			return nil, fmt.Errorf("ledger: history decode: %w", err)
		}
		entry.EntityID = entityID
		entry.PreviousClassification = contracts.Classification(prevClass)
		out = append(out, entry)
	}
	return out, rows.Err()
}
