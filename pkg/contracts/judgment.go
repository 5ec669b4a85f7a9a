package contracts

import "time"

// Judgment is the complete ten-question record of one evaluation pass.
// It is created whole by the composer, is immutable, and is superseded
// (never mutated) by the next pass for the same entity.
type Judgment struct {
	JudgmentID string     `json:"judgment_id"`
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`

	EvaluatedAt   time.Time `json:"evaluated_at"`
	ConfigVersion string    `json:"config_version"`

	Classification Classification `json:"classification"`
	Trend          Trend          `json:"trend"`

	// DaysInState counts whole days the entity has held the current
	// classification, derived from the ledger, never cached elsewhere.
	DaysInState int `json:"days_in_state"`

	// WhatIsHappening lists the normalized facts this pass judged.
	WhatIsHappening []string `json:"what_is_happening"`

	// WhatIsWrong summarizes the findings that fired.
	WhatIsWrong []string `json:"what_is_wrong"`

	// Reasoning cites the rules, thresholds, and trend behind the verdict.
	Reasoning []string `json:"reasoning"`

	// NextAction is exactly one action, deadline attached. Never a list.
	NextAction     string    `json:"next_action"`
	ActionDeadline time.Time `json:"action_deadline"`

	Prohibitions []string `json:"prohibitions"`

	// AccountableRole is always non-empty. AccountablePerson may be empty
	// when no specific person can be resolved; the role alone suffices.
	AccountableRole   string `json:"accountable_role"`
	AccountablePerson string `json:"accountable_person,omitempty"`

	Consequences []string `json:"consequences_if_unaddressed"`

	// Unknowns is non-empty whenever any signal could not be resolved or
	// any rule failed. Gaps are surfaced, never papered over.
	Unknowns []string `json:"unknowns"`

	BlockedDecisions []string `json:"blocked_decisions"`

	// Findings is the full finding set behind the summaries, kept so audit
	// consumers can trace every cited rule.
	Findings []Finding `json:"findings"`

	// ContentHash is the canonical hash of the judgment body excluding
	// JudgmentID, EvaluatedAt, and ActionDeadline. Identical inputs under
	// the same config version produce identical hashes.
	ContentHash string `json:"content_hash"`
}

// HashableView returns the judgment stripped of its per-pass identity
// fields, the form the content hash is computed over. Finding timestamps
// come from observations, which are part of the input, so they stay in.
func (j Judgment) HashableView() Judgment {
	j.JudgmentID = ""
	j.EvaluatedAt = time.Time{}
	j.ActionDeadline = time.Time{}
	j.ContentHash = ""
	return j
}
