package contracts

import "time"

// CategoryUnclassified marks a categorical value the normalizer did not
// recognize. Unknown categories are preserved under this marker, never
// silently dropped or coerced.
const CategoryUnclassified = "UNCLASSIFIED"

// Observation is one normalized, timestamped fact about an entity.
// Exactly one of Numeric or Category is populated.
type Observation struct {
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	Kind       SignalKind `json:"kind"`

	// SubKey narrows the signal within its kind, e.g. the vital name
	// ("heart_rate") or the medication name. Optional.
	SubKey string `json:"sub_key,omitempty"`

	// Numeric is the measured value for numeric signals.
	Numeric *float64 `json:"numeric,omitempty"`

	// Category is the canonical categorical value for state signals,
	// or CategoryUnclassified for values the normalizer did not recognize.
	Category string `json:"category,omitempty"`

	Unit       string    `json:"unit,omitempty"`
	ObservedAt time.Time `json:"observed_at"`

	// Source is the provenance tag of the raw record. Required; the
	// normalizer rejects records without it.
	Source string `json:"source"`
}

// IsNumeric reports whether the observation carries a numeric value.
func (o Observation) IsNumeric() bool { return o.Numeric != nil }
