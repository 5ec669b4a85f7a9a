package thresholds

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/spine/pkg/contracts"
)

const testPackDoc = `
version: "1.4.0"
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
        baseline: 72
        unit: bpm
      MEDICATION:
        high: 30
        critical_high: 120
        unit: minutes_late
        warn_categories: [LATE, HELD]
        critical_categories: [MISSED]
      TASK:
        warn_categories: [OVERDUE]
    guard_rules:
      - rule_id: GR-RES-001
        description: repeated refusal pattern
        kind: PATTERN
        condition: 'category == "REFUSAL_STREAK"'
        severity: UNSAFE
  DEPARTMENT:
    required_signals: [STAFFING, DEVICE]
    accountability:
      role: shift-supervisor
      person: j.okafor
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
      DEVICE:
        warn_categories: [LOW_BATTERY]
        critical_categories: [OFFLINE, FAULT]
entity_overrides:
  resident-17:
    bands:
      VITAL/heart_rate:
        low: 55
        high: 100
        critical_low: 45
        critical_high: 120
        baseline: 68
        unit: bpm
`

func testPack(t *testing.T) *Pack {
	t.Helper()
	p, err := ParsePack([]byte(testPackDoc))
	require.NoError(t, err)
	return p
}

func TestParsePack_Valid(t *testing.T) {
	p := testPack(t)
	assert.Equal(t, "1.4.0", p.Version)
	assert.Len(t, p.Entities, 2)
}

func TestParsePack_SchemaRejectsMissingAccountability(t *testing.T) {
	doc := `
version: "1.0.0"
entities:
  RESIDENT:
    required_signals: [VITAL]
    deadlines:
      CRITICAL: 15m
      UNSAFE: 1h
      CONCERNING: 8h
      ACCEPTABLE: 72h
    bands: {}
`
	_, err := ParsePack([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestParsePack_SchemaRejectsBadVersion(t *testing.T) {
	doc := `
version: "one point four"
entities:
  RESIDENT:
    required_signals: [VITAL]
    accountability: {role: nurse}
    deadlines: {CRITICAL: 15m, UNSAFE: 1h, CONCERNING: 8h, ACCEPTABLE: 72h}
    bands: {}
`
	_, err := ParsePack([]byte(doc))
	require.Error(t, err)
}

func TestParsePack_RejectsMalformedDeadline(t *testing.T) {
	doc := `
version: "1.0.0"
entities:
  RESIDENT:
    required_signals: [VITAL]
    accountability: {role: nurse}
    deadlines: {CRITICAL: soon, UNSAFE: 1h, CONCERNING: 8h, ACCEPTABLE: 72h}
    bands: {}
`
	_, err := ParsePack([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")
}

func TestParsePack_RejectsUnknownGuardSeverity(t *testing.T) {
	doc := `
version: "1.0.0"
entities:
  RESIDENT:
    required_signals: [VITAL]
    accountability: {role: nurse}
    deadlines: {CRITICAL: 15m, UNSAFE: 1h, CONCERNING: 8h, ACCEPTABLE: 72h}
    bands: {}
    guard_rules:
      - rule_id: GR-1
        kind: PATTERN
        condition: 'true'
        severity: SEVERE
`
	_, err := ParsePack([]byte(doc))
	require.Error(t, err)
}

func TestRegistry_ResolveAppliesEntityOverride(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testPack(t)))

	set, err := r.Resolve("resident-17", contracts.EntityResident, "1.4.0")
	require.NoError(t, err)

	band, ok := set.Band(contracts.SignalVital, "heart_rate")
	require.True(t, ok)
	assert.Equal(t, 100.0, *band.High)
	assert.Equal(t, 68.0, *band.Baseline)

	// Another resident keeps the type-level band.
	set2, err := r.Resolve("resident-22", contracts.EntityResident, "1.4.0")
	require.NoError(t, err)
	band2, ok := set2.Band(contracts.SignalVital, "heart_rate")
	require.True(t, ok)
	assert.Equal(t, 110.0, *band2.High)
}

func TestRegistry_ResolveIsDeterministic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testPack(t)))

	a, err := r.Resolve("resident-17", contracts.EntityResident, "1.4.0")
	require.NoError(t, err)
	b, err := r.Resolve("resident-17", contracts.EntityResident, "1.4.0")
	require.NoError(t, err)

	ha, err := contracts.CanonicalHash(a)
	require.NoError(t, err)
	hb, err := contracts.CanonicalHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestRegistry_DeadlinesScaleWithSeverity(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testPack(t)))

	set, err := r.Resolve("resident-1", contracts.EntityResident, "")
	require.NoError(t, err)

	critical, _ := set.Deadline(contracts.ClassCritical)
	unsafe, _ := set.Deadline(contracts.ClassUnsafe)
	concerning, _ := set.Deadline(contracts.ClassConcerning)
	assert.Equal(t, 15*time.Minute, critical)
	assert.Less(t, critical, unsafe)
	assert.Less(t, unsafe, concerning)
}

func TestRegistry_LatestUsesSemverOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testPack(t)))

	newer := testPack(t)
	newer.Version = "1.10.0"
	newer.semver = nil
	require.NoError(t, r.Register(newer))

	older := testPack(t)
	older.Version = "1.9.9"
	older.semver = nil
	require.NoError(t, r.Register(older))

	// Lexical order would say 1.9.9 > 1.10.0; semver order must not.
	latest, err := r.Latest()
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", latest)
}

func TestRegistry_RejectsRepublish(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testPack(t)))
	err := r.Register(testPack(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already published")
}

func TestResolutionError_BandMissWording(t *testing.T) {
	err := &ResolutionError{
		Code: CodeNoThresholdConfigured, EntityID: "resident-1",
		EntityType: contracts.EntityResident, Kind: contracts.SignalDevice, Version: "1.4.0",
	}
	assert.Contains(t, err.Error(), "no threshold configured")
	assert.Contains(t, err.Error(), "resident-1")
	assert.Contains(t, err.Error(), "DEVICE")
}

func TestRegistry_UnknownVersion(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testPack(t)))

	_, err := r.Resolve("resident-1", contracts.EntityResident, "9.9.9")
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, CodeUnknownConfigVersion, rerr.Code)
}

func TestRegistry_NoEntityConfiguration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testPack(t)))

	_, err := r.Resolve("caregiver-3", contracts.EntityCaregiver, "1.4.0")
	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, CodeNoEntityConfiguration, rerr.Code)
}
