package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/spine/pkg/contracts"
)

func testJudgment(entityID string, class contracts.Classification) contracts.Judgment {
	return contracts.Judgment{
		JudgmentID:      "j-" + entityID + "-" + string(class),
		EntityID:        entityID,
		EntityType:      contracts.EntityResident,
		ConfigVersion:   "1.0.0",
		Classification:  class,
		Trend:           contracts.TrendNoHistory,
		AccountableRole: "charge-nurse",
		NextAction:      "review",
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryStoreAppendOnly(t *testing.T) {
	store := NewMemoryStore().WithClock(fixedClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, testJudgment("resident-1", contracts.ClassConcerning))
		require.NoError(t, err)
	}

	assert.Equal(t, 5, store.Length("resident-1"))
	history, err := store.History(ctx, "resident-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, uint64(5), history[0].Sequence, "history is newest first")
	assert.Equal(t, uint64(1), history[4].Sequence)
}

func TestMemoryStoreSelfTransitionIsRecorded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Append(ctx, testJudgment("resident-2", contracts.ClassCritical))
	require.NoError(t, err)
	assert.Equal(t, contracts.Classification(""), first.PreviousClassification)
	assert.Equal(t, contracts.GenesisHash, first.PrevHash)

	second, err := store.Append(ctx, testJudgment("resident-2", contracts.ClassCritical))
	require.NoError(t, err)
	assert.Equal(t, contracts.ClassCritical, second.PreviousClassification,
		"still-critical must produce a new entry, not silence")
	assert.Equal(t, first.ContentHash, second.PrevHash)
	assert.Equal(t, uint64(2), second.Sequence)
}

func TestMemoryStoreChainsAreIndependentPerEntity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Append(ctx, testJudgment("resident-a", contracts.ClassUnsafe))
	require.NoError(t, err)
	entry, err := store.Append(ctx, testJudgment("resident-b", contracts.ClassAcceptable))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), entry.Sequence)
	assert.Equal(t, contracts.GenesisHash, entry.PrevHash)
}

func TestMemoryStoreHistoryLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	classes := []contracts.Classification{
		contracts.ClassAcceptable,
		contracts.ClassConcerning,
		contracts.ClassUnsafe,
	}
	for _, c := range classes {
		_, err := store.Append(ctx, testJudgment("dept-1", c))
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "dept-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, contracts.ClassUnsafe, history[0].Judgment.Classification)
	assert.Equal(t, contracts.ClassConcerning, history[1].Judgment.Classification)
}

func TestMemoryStoreHistoryUnknownEntity(t *testing.T) {
	store := NewMemoryStore()
	history, err := store.History(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemoryStoreVerify(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		j := testJudgment("resident-3", contracts.ClassConcerning)
		j.JudgmentID = fmt.Sprintf("j-%d", i)
		_, err := store.Append(ctx, j)
		require.NoError(t, err)
	}

	ok, reason := store.Verify("resident-3")
	assert.True(t, ok, reason)

	ok, reason = store.Verify("never-seen")
	assert.True(t, ok)
	assert.Equal(t, "empty chain", reason)
}

func TestMemoryStoreVerifyDetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Append(ctx, testJudgment("resident-4", contracts.ClassAcceptable))
	require.NoError(t, err)
	_, err = store.Append(ctx, testJudgment("resident-4", contracts.ClassCritical))
	require.NoError(t, err)

	// Reach inside and rewrite history.
	store.chains["resident-4"].entries[0].Judgment.Classification = contracts.ClassAcceptable
	store.chains["resident-4"].entries[0].Judgment.NextAction = "nothing to see here"

	ok, reason := store.Verify("resident-4")
	assert.False(t, ok)
	assert.Contains(t, reason, "hash mismatch")
}
