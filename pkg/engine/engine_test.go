package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/spine/pkg/contracts"
	"github.com/careops/spine/pkg/ledger"
	"github.com/careops/spine/pkg/thresholds"
)

const enginePackDoc = `
version: "2.0.0"
entities:
  RESIDENT:
    required_signals: [VITAL, MEDICATION, TASK]
    accountability:
      role: charge-nurse
    deadlines:
      CRITICAL: 15m
      UNSAFE: 1h
      CONCERNING: 8h
      ACCEPTABLE: 72h
    bands:
      VITAL/heart_rate:
        low: 50
        high: 110
        critical_low: 40
        critical_high: 130
        unit: bpm
      MEDICATION:
        warn_categories: [LATE, HELD]
        critical_categories: [MISSED]
      TASK:
        warn_categories: [OVERDUE]
  DEPARTMENT:
    required_signals: [STAFFING]
    accountability:
      role: shift-supervisor
    deadlines:
      CRITICAL: 30m
      UNSAFE: 2h
      CONCERNING: 12h
      ACCEPTABLE: 96h
    bands:
      STAFFING:
        high: 8
        critical_high: 12
        unit: residents_per_caregiver
`

func testRegistry(t *testing.T) *thresholds.Registry {
	t.Helper()
	p, err := thresholds.ParsePack([]byte(enginePackDoc))
	require.NoError(t, err)
	reg := thresholds.NewRegistry()
	require.NoError(t, reg.Register(p))
	return reg
}

func f64(v float64) *float64 { return &v }

func vitalObs(entityID string, value float64) contracts.Observation {
	return contracts.Observation{
		EntityID:   entityID,
		EntityType: contracts.EntityResident,
		Kind:       contracts.SignalVital,
		SubKey:     "heart_rate",
		Numeric:    f64(value),
		Unit:       "bpm",
		ObservedAt: time.Date(2026, 3, 1, 7, 55, 0, 0, time.UTC),
		Source:     "bedside-monitor",
	}
}

func categoryObs(entityID string, kind contracts.SignalKind, category string) contracts.Observation {
	return contracts.Observation{
		EntityID:   entityID,
		EntityType: contracts.EntityResident,
		Kind:       kind,
		Category:   category,
		ObservedAt: time.Date(2026, 3, 1, 7, 50, 0, 0, time.UTC),
		Source:     "emar",
	}
}

func newTestEngine(t *testing.T) (*Engine, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	eng := New(testRegistry(t), store,
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }),
	)
	return eng, store
}

func TestEvaluateVitalAtCriticalCutoff(t *testing.T) {
	eng, _ := newTestEngine(t)

	j, err := eng.Evaluate(context.Background(), EvaluateRequest{
		EntityID:   "resident-1",
		EntityType: contracts.EntityResident,
		Observations: []contracts.Observation{
			vitalObs("resident-1", 130),
			categoryObs("resident-1", contracts.SignalMedication, "GIVEN"),
			categoryObs("resident-1", contracts.SignalTask, "COMPLETE"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.ClassCritical, j.Classification)
	assert.Equal(t, contracts.TrendNoHistory, j.Trend)
	assert.Equal(t, 0, j.DaysInState)
	assert.Equal(t, "2.0.0", j.ConfigVersion)
	assert.Equal(t, "charge-nurse", j.AccountableRole)
	assert.NotEmpty(t, j.WhatIsWrong)
	assert.Equal(t, j.EvaluatedAt.Add(15*time.Minute), j.ActionDeadline)
}

func TestEvaluateZeroObservationsNeverSilentlyAcceptable(t *testing.T) {
	eng, _ := newTestEngine(t)

	j, err := eng.Evaluate(context.Background(), EvaluateRequest{
		EntityID:   "resident-2",
		EntityType: contracts.EntityResident,
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.ClassConcerning, j.Classification)
	assert.Equal(t, contracts.TrendNoHistory, j.Trend)
	assert.Empty(t, j.WhatIsWrong)
	require.Len(t, j.Unknowns, 3)
	for _, kind := range []string{"VITAL", "MEDICATION", "TASK"} {
		assert.Contains(t, j.Unknowns, fmt.Sprintf("required signal %s has no observation in this window", kind))
	}
}

func TestEvaluateReEvaluationAppendsStillEntry(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	req := EvaluateRequest{
		EntityID:   "resident-3",
		EntityType: contracts.EntityResident,
		Observations: []contracts.Observation{
			vitalObs("resident-3", 130),
			categoryObs("resident-3", contracts.SignalMedication, "GIVEN"),
			categoryObs("resident-3", contracts.SignalTask, "COMPLETE"),
		},
	}

	first, err := eng.Evaluate(ctx, req)
	require.NoError(t, err)
	second, err := eng.Evaluate(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, contracts.ClassCritical, first.Classification)
	assert.Equal(t, contracts.ClassCritical, second.Classification)
	assert.Equal(t, contracts.TrendStable, second.Trend)

	history, err := store.History(ctx, "resident-3", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, contracts.ClassCritical, history[0].PreviousClassification)
}

func TestEvaluateHistoryGrowsPerPass(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := eng.Evaluate(ctx, EvaluateRequest{
			EntityID:   "dept-1",
			EntityType: contracts.EntityDepartment,
			Observations: []contracts.Observation{{
				EntityID:   "dept-1",
				EntityType: contracts.EntityDepartment,
				Kind:       contracts.SignalStaffing,
				Numeric:    f64(6),
				Unit:       "residents_per_caregiver",
				ObservedAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
				Source:     "scheduler",
			}},
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 6, store.Length("dept-1"))
}

func TestEvaluateTrendImproving(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	base := []contracts.Observation{
		categoryObs("resident-4", contracts.SignalMedication, "GIVEN"),
		categoryObs("resident-4", contracts.SignalTask, "COMPLETE"),
	}

	_, err := eng.Evaluate(ctx, EvaluateRequest{
		EntityID:     "resident-4",
		EntityType:   contracts.EntityResident,
		Observations: append([]contracts.Observation{vitalObs("resident-4", 130)}, base...),
	})
	require.NoError(t, err)

	j, err := eng.Evaluate(ctx, EvaluateRequest{
		EntityID:     "resident-4",
		EntityType:   contracts.EntityResident,
		Observations: append([]contracts.Observation{vitalObs("resident-4", 115)}, base...),
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.ClassUnsafe, j.Classification)
	assert.Equal(t, contracts.TrendImproving, j.Trend)
}

func TestEvaluateRejectsBadRequests(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Evaluate(context.Background(), EvaluateRequest{
		EntityType: contracts.EntityResident,
	})
	assert.Error(t, err)

	_, err = eng.Evaluate(context.Background(), EvaluateRequest{
		EntityID:   "resident-5",
		EntityType: contracts.EntityType("ROBOT"),
	})
	assert.Error(t, err)
}

func TestEvaluateEntityConfigGapDegradesNotCrashes(t *testing.T) {
	eng, store := newTestEngine(t)

	// The pack has no CAREGIVER section; the pass must still produce an
	// appended judgment that names the gap.
	j, err := eng.Evaluate(context.Background(), EvaluateRequest{
		EntityID:   "caregiver-1",
		EntityType: contracts.EntityCaregiver,
		Observations: []contracts.Observation{{
			EntityID:   "caregiver-1",
			EntityType: contracts.EntityCaregiver,
			Kind:       contracts.SignalTask,
			Category:   "OVERDUE",
			ObservedAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
			Source:     "scheduler",
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.ClassConcerning, j.Classification)
	assert.Equal(t, "2.0.0", j.ConfigVersion)
	assert.NotEmpty(t, j.AccountableRole)

	var named bool
	for _, u := range j.Unknowns {
		if strings.Contains(u, "no configuration for entity type CAREGIVER") {
			named = true
		}
	}
	assert.True(t, named, "unknowns must name the configuration gap: %v", j.Unknowns)
	assert.Equal(t, 1, store.Length("caregiver-1"))
}

func TestEvaluateLogsStateStreak(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	eng := New(testRegistry(t), ledger.NewMemoryStore(), WithLogger(logger))
	ctx := context.Background()

	req := EvaluateRequest{
		EntityID:   "resident-9",
		EntityType: contracts.EntityResident,
		Observations: []contracts.Observation{
			vitalObs("resident-9", 131),
			categoryObs("resident-9", contracts.SignalMedication, "GIVEN"),
			categoryObs("resident-9", contracts.SignalTask, "COMPLETE"),
		},
	}
	_, err := eng.Evaluate(ctx, req)
	require.NoError(t, err)
	buf.Reset()
	_, err = eng.Evaluate(ctx, req)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"state_streak":2`)
}

func TestEvaluateUnknownConfigVersion(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.Evaluate(context.Background(), EvaluateRequest{
		EntityID:      "resident-6",
		EntityType:    contracts.EntityResident,
		ConfigVersion: "9.9.9",
	})
	require.Error(t, err)
	var resErr *thresholds.ResolutionError
	assert.ErrorAs(t, err, &resErr)
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, judgment contracts.Judgment) (contracts.LedgerEntry, error) {
	return contracts.LedgerEntry{}, fmt.Errorf("%w: disk gone", ledger.ErrAppendFailed)
}

func (failingStore) History(ctx context.Context, entityID string, limit int) ([]contracts.LedgerEntry, error) {
	return nil, nil
}

func TestEvaluateAppendFailureIsHardError(t *testing.T) {
	eng := New(testRegistry(t), failingStore{})

	_, err := eng.Evaluate(context.Background(), EvaluateRequest{
		EntityID:   "resident-7",
		EntityType: contracts.EntityResident,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrAppendFailed))
}

func TestEvaluateSerializesPerEntity(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	const passes = 20
	var wg sync.WaitGroup
	for i := 0; i < passes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Evaluate(ctx, EvaluateRequest{
				EntityID:   "resident-hot",
				EntityType: contracts.EntityResident,
				Observations: []contracts.Observation{
					vitalObs("resident-hot", 95),
					categoryObs("resident-hot", contracts.SignalMedication, "GIVEN"),
					categoryObs("resident-hot", contracts.SignalTask, "COMPLETE"),
				},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, passes, store.Length("resident-hot"))
	history, err := store.History(ctx, "resident-hot", 0)
	require.NoError(t, err)

	seen := make(map[uint64]bool, passes)
	for _, entry := range history {
		assert.False(t, seen[entry.Sequence], "duplicate sequence %d", entry.Sequence)
		seen[entry.Sequence] = true
	}

	ok, reason := store.Verify("resident-hot")
	assert.True(t, ok, reason)
}

type capturingArchiver struct {
	mu      sync.Mutex
	entries []contracts.LedgerEntry
}

func (a *capturingArchiver) ArchiveEntry(ctx context.Context, entry contracts.LedgerEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func TestEvaluateArchivesAppendedEntry(t *testing.T) {
	archiver := &capturingArchiver{}
	eng := New(testRegistry(t), ledger.NewMemoryStore(), WithArchiver(archiver))

	_, err := eng.Evaluate(context.Background(), EvaluateRequest{
		EntityID:   "resident-8",
		EntityType: contracts.EntityResident,
	})
	require.NoError(t, err)

	require.Len(t, archiver.entries, 1)
	assert.Equal(t, "resident-8", archiver.entries[0].EntityID)
	assert.Equal(t, uint64(1), archiver.entries[0].Sequence)
}
