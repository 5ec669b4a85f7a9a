package contracts

import "time"

// Finding is the output of one rule firing against one observation.
// Findings are never edited; a new evaluation pass produces a new,
// disjoint set.
type Finding struct {
	RuleID string     `json:"rule_id"`
	Kind   SignalKind `json:"kind"`

	// Severity is this finding's contribution to the overall verdict.
	Severity Classification `json:"severity"`

	// Reason is the human-readable explanation a dashboard renders verbatim.
	Reason string `json:"reason"`

	// Observed and Threshold record the value/cutoff pair that was crossed,
	// already rendered for display.
	Observed  string `json:"observed,omitempty"`
	Threshold string `json:"threshold,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// IsRuleFailure reports whether the finding records a rule's own failure
// rather than a judgment about the entity.
func (f Finding) IsRuleFailure() bool { return f.Kind == SignalRuleFailure }
