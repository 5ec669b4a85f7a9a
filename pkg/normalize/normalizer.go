// Package normalize converts raw, source-specific signal records into the
// common Observation shape. The transform is pure: it produces either an
// Observation or a typed NormalizationError, and never anything else.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/careops/spine/pkg/contracts"
)

// Error codes for NormalizationError.
const (
	CodeMissingField           = "MissingField"
	CodeUnrecognizedSignalKind = "UnrecognizedSignalKind"
	CodeUnknownEntityType      = "UnknownEntityType"
)

// NormalizationError rejects a raw record. Callers branch on Code; the
// engine absorbs these into a judgment's unknowns rather than failing.
type NormalizationError struct {
	Code  string
	Field string
	Kind  contracts.SignalKind
}

func (e *NormalizationError) Error() string {
	switch e.Code {
	case CodeMissingField:
		return fmt.Sprintf("normalize: missing required field %q", e.Field)
	case CodeUnrecognizedSignalKind:
		return fmt.Sprintf("normalize: unrecognized signal kind %q", e.Kind)
	case CodeUnknownEntityType:
		return fmt.Sprintf("normalize: unknown entity type in field %q", e.Field)
	}
	return "normalize: " + e.Code
}

// RawRecord is a source-specific reading before normalization. Value holds
// the reading as the source rendered it; the normalizer decides whether it
// is numeric or categorical per signal kind.
type RawRecord struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	SubKey     string `json:"sub_key,omitempty"`
	Value      string `json:"value"`
	Unit       string `json:"unit,omitempty"`
	ObservedAt string `json:"observed_at"`
	Source     string `json:"source"`
}

// canonicalCategories lists the recognized categorical vocabulary per kind.
// Anything outside the list maps to UNCLASSIFIED, preserved rather than dropped.
var canonicalCategories = map[contracts.SignalKind][]string{
	contracts.SignalMedication: {"GIVEN", "LATE", "MISSED", "REFUSED", "HELD"},
	contracts.SignalTask:       {"COMPLETE", "PENDING", "OVERDUE", "SKIPPED"},
	contracts.SignalDevice:     {"ONLINE", "OFFLINE", "FAULT", "LOW_BATTERY"},
	contracts.SignalPattern:    {"WANDERING", "FALL_CLUSTER", "SLEEP_DISRUPTION", "REFUSAL_STREAK", "NONE"},
}

// Normalize converts one raw record of the given kind into an Observation.
//
// Records missing provenance or timestamp are rejected with MissingField.
// Unknown signal kinds are rejected with UnrecognizedSignalKind. Unknown
// categorical values are mapped to contracts.CategoryUnclassified rather
// than coerced or dropped.
func Normalize(raw RawRecord, kind contracts.SignalKind) (contracts.Observation, error) {
	if !contracts.KnownSignalKind(kind) {
		return contracts.Observation{}, &NormalizationError{Code: CodeUnrecognizedSignalKind, Kind: kind}
	}
	if raw.EntityID == "" {
		return contracts.Observation{}, &NormalizationError{Code: CodeMissingField, Field: "entity_id"}
	}
	if raw.Source == "" {
		return contracts.Observation{}, &NormalizationError{Code: CodeMissingField, Field: "source"}
	}
	if raw.ObservedAt == "" {
		return contracts.Observation{}, &NormalizationError{Code: CodeMissingField, Field: "observed_at"}
	}
	observedAt, err := parseTimestamp(raw.ObservedAt)
	if err != nil {
		return contracts.Observation{}, &NormalizationError{Code: CodeMissingField, Field: "observed_at"}
	}
	entityType := contracts.EntityType(strings.ToUpper(strings.TrimSpace(raw.EntityType)))
	if !contracts.KnownEntityType(entityType) {
		return contracts.Observation{}, &NormalizationError{Code: CodeUnknownEntityType, Field: "entity_type"}
	}

	obs := contracts.Observation{
		EntityID:   raw.EntityID,
		EntityType: entityType,
		Kind:       kind,
		SubKey:     strings.TrimSpace(raw.SubKey),
		Unit:       strings.TrimSpace(raw.Unit),
		ObservedAt: observedAt.UTC(),
		Source:     raw.Source,
	}

	value := strings.TrimSpace(raw.Value)
	if value == "" {
		return contracts.Observation{}, &NormalizationError{Code: CodeMissingField, Field: "value"}
	}

	if n, err := strconv.ParseFloat(value, 64); err == nil {
		obs.Numeric = &n
		return obs, nil
	}

	obs.Category = canonicalCategory(kind, value)
	return obs, nil
}

// NormalizeAll normalizes a batch, partitioning into observations and the
// rejection reasons for records that could not be normalized. Rejections
// feed the judgment's unknowns; they never abort the pass.
func NormalizeAll(raws []RawRecord, kinds []contracts.SignalKind) ([]contracts.Observation, []string) {
	var (
		observations []contracts.Observation
		rejections   []string
	)
	for i, raw := range raws {
		kind := contracts.SignalKind("")
		if i < len(kinds) {
			kind = kinds[i]
		}
		obs, err := Normalize(raw, kind)
		if err != nil {
			rejections = append(rejections, fmt.Sprintf("record %d (%s): %v", i, raw.Source, err))
			continue
		}
		observations = append(observations, obs)
	}
	return observations, rejections
}

func canonicalCategory(kind contracts.SignalKind, value string) string {
	upper := strings.ToUpper(strings.ReplaceAll(value, " ", "_"))
	for _, c := range canonicalCategories[kind] {
		if c == upper {
			return c
		}
	}
	return contracts.CategoryUnclassified
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
