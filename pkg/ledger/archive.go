package ledger

import (
	"context"
	"fmt"

	"github.com/careops/spine/pkg/contracts"
)

// Archiver copies appended entries to cold storage for retention and
// audit export. Archiving is best-effort: the engine logs archive
// failures but never fails an evaluation over them, because the entry
// is already durable in the primary store.
type Archiver interface {
	ArchiveEntry(ctx context.Context, entry contracts.LedgerEntry) error
}

// archiveKey is the object path for an entry: one object per append,
// grouped by entity so an entity's full history lists under one prefix.
func archiveKey(prefix string, entry contracts.LedgerEntry) string {
	return fmt.Sprintf("%s%s/%08d.json", prefix, entry.EntityID, entry.Sequence)
}

func archiveBody(entry contracts.LedgerEntry) ([]byte, error) {
	body, err := contracts.CanonicalJSON(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode archive entry: %w", err)
	}
	return body, nil
}
