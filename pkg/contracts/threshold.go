package contracts

import "time"

// Band holds the cutoffs and baseline used to judge one signal.
// Numeric signals use the Low/High pair for the unsafe boundary and the
// Critical pair for the critical boundary; categorical signals use the
// category lists. Nil cutoffs mean "no boundary on that side".
type Band struct {
	Low          *float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High         *float64 `json:"high,omitempty" yaml:"high,omitempty"`
	CriticalLow  *float64 `json:"critical_low,omitempty" yaml:"critical_low,omitempty"`
	CriticalHigh *float64 `json:"critical_high,omitempty" yaml:"critical_high,omitempty"`

	// Baseline is the entity- or population-level reference value, cited in
	// reasoning, never used as a cutoff.
	Baseline *float64 `json:"baseline,omitempty" yaml:"baseline,omitempty"`

	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// WarnCategories and CriticalCategories judge categorical signals.
	WarnCategories     []string `json:"warn_categories,omitempty" yaml:"warn_categories,omitempty"`
	CriticalCategories []string `json:"critical_categories,omitempty" yaml:"critical_categories,omitempty"`
}

// GuardRule is a configuration-defined rule expressed as a CEL condition.
// The evaluator compiles the condition once per pack version and emits a
// finding at Severity when it evaluates to true for an observation.
type GuardRule struct {
	RuleID      string         `json:"rule_id" yaml:"rule_id"`
	Description string         `json:"description" yaml:"description"`
	Kind        SignalKind     `json:"kind" yaml:"kind"`
	Condition   string         `json:"condition" yaml:"condition"`
	Severity    Classification `json:"severity" yaml:"severity"`
}

// Accountability names who answers for an entity's judgments.
// Role is mandatory; Person is resolved when rostering data allows it.
type Accountability struct {
	Role   string `json:"role" yaml:"role"`
	Person string `json:"person,omitempty" yaml:"person,omitempty"`
}

// ThresholdSet is the resolved, versioned configuration for one entity:
// bands per signal, required signal coverage, deadline scaling, guard
// rules, and accountability. For a fixed (entity, version) pair resolution
// always yields the same set; updating configuration publishes a new
// version instead of mutating this one.
type ThresholdSet struct {
	Version    string     `json:"version"`
	EntityType EntityType `json:"entity_type"`

	// Bands is keyed by "KIND" or "KIND/sub_key". Lookup falls back from
	// the sub-keyed band to the kind-level band.
	Bands map[string]Band `json:"bands"`

	// RequiredSignals lists the kinds that must be present for this entity
	// type before an ACCEPTABLE verdict is permitted.
	RequiredSignals []SignalKind `json:"required_signals"`

	// Deadlines maps each classification to the action deadline interval.
	// More severe classes carry shorter intervals.
	Deadlines map[Classification]time.Duration `json:"deadlines"`

	Accountability Accountability `json:"accountability"`

	GuardRules []GuardRule `json:"guard_rules,omitempty"`
}

// BandKey builds the lookup key for a kind plus optional sub-key.
func BandKey(kind SignalKind, subKey string) string {
	if subKey == "" {
		return string(kind)
	}
	return string(kind) + "/" + subKey
}

// Band resolves the band for an observation's kind and sub-key,
// falling back to the kind-level band when no sub-keyed band exists.
func (ts ThresholdSet) Band(kind SignalKind, subKey string) (Band, bool) {
	if subKey != "" {
		if b, ok := ts.Bands[BandKey(kind, subKey)]; ok {
			return b, true
		}
	}
	b, ok := ts.Bands[string(kind)]
	return b, ok
}

// Deadline returns the configured action interval for a classification.
func (ts ThresholdSet) Deadline(c Classification) (time.Duration, bool) {
	d, ok := ts.Deadlines[c]
	return d, ok
}
