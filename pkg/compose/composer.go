// Package compose assembles the ten-question Judgment record from an
// evaluation pass. The invariants live here, not in callers: exactly one
// next action with a configuration-driven deadline, a never-empty
// accountable role, unknowns surfaced whenever anything upstream could
// not be judged, and no ACCEPTABLE verdict inferred from silence.
package compose

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/careops/spine/pkg/contracts"
	"github.com/careops/spine/pkg/rules"
)

// defaultRoles backstops accountability per entity type when the pack
// does not name a role. The role is never omitted.
var defaultRoles = map[contracts.EntityType]string{
	contracts.EntityResident:   "charge-nurse",
	contracts.EntityDepartment: "shift-supervisor",
	contracts.EntityCaregiver:  "care-coordinator",
}

// defaultDeadlines backstops the deadline table for packs missing an
// entry, scaled by severity like every configured table must be.
var defaultDeadlines = map[contracts.Classification]time.Duration{
	contracts.ClassCritical:   15 * time.Minute,
	contracts.ClassUnsafe:     time.Hour,
	contracts.ClassConcerning: 8 * time.Hour,
	contracts.ClassAcceptable: 72 * time.Hour,
}

// Input carries everything one evaluation pass produced, ready for
// assembly into a Judgment.
type Input struct {
	EntityID      string
	EntityType    contracts.EntityType
	EvaluatedAt   time.Time
	ConfigVersion string

	Observations []contracts.Observation
	Report       rules.Report

	// Rejections lists raw records the normalizer refused; they join the
	// unknowns like any other gap.
	Rejections []string

	Classification contracts.Classification
	Trend          contracts.Trend
	DaysInState    int

	Set contracts.ThresholdSet
}

// CoverageFloor applies the no-silent-acceptable invariant: an ACCEPTABLE
// verdict stands only when the evaluator confirmed every required signal
// was present and judged. Anything less floors at CONCERNING.
func CoverageFloor(verdict contracts.Classification, report rules.Report) contracts.Classification {
	if verdict == contracts.ClassAcceptable && !report.FullCoverage() {
		return contracts.ClassConcerning
	}
	return verdict
}

// Compose builds the complete Judgment. The output shape is always total:
// every list is populated or deliberately empty, and gaps appear in
// unknowns rather than truncating the record.
func Compose(in Input) contracts.Judgment {
	classification := CoverageFloor(in.Classification, in.Report)

	j := contracts.Judgment{
		JudgmentID:     uuid.New().String(),
		EntityID:       in.EntityID,
		EntityType:     in.EntityType,
		EvaluatedAt:    in.EvaluatedAt,
		ConfigVersion:  in.ConfigVersion,
		Classification: classification,
		Trend:          in.Trend,
		DaysInState:    in.DaysInState,
		Findings:       append([]contracts.Finding{}, in.Report.Findings...),
	}

	j.WhatIsHappening = happeningFacts(in.Observations)
	j.WhatIsWrong = wrongSummaries(in.Report.Findings)
	j.Reasoning = reasoning(in, classification)
	j.NextAction, j.ActionDeadline = nextAction(in, classification)
	j.Prohibitions = prohibitions(in.EntityType, classification)
	j.AccountableRole, j.AccountablePerson = accountable(in)
	j.Consequences = consequences(classification)
	j.Unknowns = unknowns(in)
	j.BlockedDecisions = blockedDecisions(in.Report, classification)

	if hash, err := contracts.JudgmentContentHash(j); err == nil {
		j.ContentHash = hash
	}
	return j
}

func happeningFacts(observations []contracts.Observation) []string {
	facts := make([]string, 0, len(observations))
	for _, obs := range observations {
		value := obs.Category
		if obs.IsNumeric() {
			value = fmt.Sprintf("%g", *obs.Numeric)
			if obs.Unit != "" {
				value += " " + obs.Unit
			}
		}
		facts = append(facts, fmt.Sprintf("%s = %s (source %s, observed %s)",
			contracts.BandKey(obs.Kind, obs.SubKey), value, obs.Source,
			obs.ObservedAt.UTC().Format(time.RFC3339)))
	}
	sort.Strings(facts)
	return facts
}

func wrongSummaries(findings []contracts.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.IsRuleFailure() {
			continue
		}
		out = append(out, fmt.Sprintf("[%s] %s", f.Severity, f.Reason))
	}
	return out
}

func reasoning(in Input, classification contracts.Classification) []string {
	lines := make([]string, 0, len(in.Report.Findings)+2)
	for _, f := range in.Report.Findings {
		if f.IsRuleFailure() {
			lines = append(lines, fmt.Sprintf("rule %s could not be applied: %s", f.RuleID, f.Reason))
			continue
		}
		lines = append(lines, fmt.Sprintf("rule %s fired: observed %s against %s", f.RuleID, f.Observed, f.Threshold))
	}
	lines = append(lines, fmt.Sprintf("classification %s under config version %s", classification, in.ConfigVersion))
	if in.Trend != contracts.TrendNoHistory {
		lines = append(lines, fmt.Sprintf("trend %s relative to previous judgment", in.Trend))
	} else {
		lines = append(lines, "first evaluation for this entity; no trend available")
	}
	if classification == contracts.ClassConcerning && in.Classification == contracts.ClassAcceptable {
		lines = append(lines, "verdict floored at CONCERNING: required signals were missing or unjudged")
	}
	return lines
}

// nextAction picks exactly one action. The most severe finding drives the
// wording; the deadline always comes from the threshold set's table so it
// stays configuration-driven.
func nextAction(in Input, classification contracts.Classification) (string, time.Time) {
	interval, ok := in.Set.Deadline(classification)
	if !ok {
		interval = defaultDeadlines[classification]
	}
	deadline := in.EvaluatedAt.Add(interval)

	top := topFinding(in.Report.Findings)
	switch classification {
	case contracts.ClassCritical:
		if top != nil {
			return fmt.Sprintf("escalate to on-call clinician now: %s", top.Reason), deadline
		}
		return "escalate to on-call clinician for immediate assessment", deadline
	case contracts.ClassUnsafe:
		if top != nil {
			return fmt.Sprintf("dispatch assigned staff to intervene: %s", top.Reason), deadline
		}
		return "dispatch assigned staff to assess and intervene", deadline
	case contracts.ClassConcerning:
		if !in.Report.FullCoverage() {
			return "obtain the missing or unjudged signals and re-evaluate", deadline
		}
		return "review flagged signals at next rounding and document response", deadline
	}
	return "continue routine monitoring per care plan", deadline
}

func topFinding(findings []contracts.Finding) *contracts.Finding {
	var top *contracts.Finding
	for i := range findings {
		f := &findings[i]
		if f.IsRuleFailure() {
			continue
		}
		if top == nil || f.Severity.Rank() > top.Severity.Rank() {
			top = f
		}
	}
	return top
}

func prohibitions(et contracts.EntityType, classification contracts.Classification) []string {
	var out []string
	switch classification {
	case contracts.ClassCritical, contracts.ClassUnsafe:
		out = append(out, "do not mark this situation resolved without a documented human assessment")
		if et == contracts.EntityResident {
			out = append(out, "do not leave the resident unmonitored until the next action is complete")
		}
		if et == contracts.EntityDepartment {
			out = append(out, "do not accept new admissions until staffing is back within its ceiling")
		}
	case contracts.ClassConcerning:
		out = append(out, "do not downgrade monitoring frequency while signals remain unjudged or flagged")
	default:
		out = append(out, "do not suspend scheduled signal collection")
	}
	return out
}

func accountable(in Input) (string, string) {
	role := in.Set.Accountability.Role
	if role == "" {
		role = defaultRoles[in.EntityType]
	}
	if role == "" {
		role = "care-coordinator"
	}
	return role, in.Set.Accountability.Person
}

func consequences(classification contracts.Classification) []string {
	switch classification {
	case contracts.ClassCritical:
		return []string{
			"unaddressed critical findings can progress to a medical emergency",
			"missed escalation windows are reportable compliance events",
		}
	case contracts.ClassUnsafe:
		return []string{"the situation is likely to escalate to CRITICAL without intervention"}
	case contracts.ClassConcerning:
		return []string{"unresolved gaps or early signals may conceal a developing risk"}
	}
	return []string{"none identified at current classification"}
}

func unknowns(in Input) []string {
	out := make([]string, 0, len(in.Report.Unknowns)+len(in.Rejections)+len(in.Report.MissingRequired))
	out = append(out, in.Report.Unknowns...)
	out = append(out, in.Rejections...)
	for _, kind := range in.Report.MissingRequired {
		out = append(out, fmt.Sprintf("required signal %s has no observation in this window", kind))
	}
	return out
}

func blockedDecisions(report rules.Report, classification contracts.Classification) []string {
	var out []string
	if classification == contracts.ClassCritical || classification == contracts.ClassUnsafe {
		out = append(out, "care-plan changes are blocked pending human review of this judgment")
	}
	if report.RuleFailures > 0 {
		out = append(out, "rule failures require an operator to confirm rule configuration before the next config publish")
	}
	return out
}
