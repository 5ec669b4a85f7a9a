// Package rules applies the ordered, deterministic rule set that turns
// normalized observations plus resolved thresholds into findings.
//
// Rule order is fixed and documented: safety rules (vitals, medication)
// run before workload rules (task, device, staffing, pattern), then
// configuration-defined guard rules in pack order, then aggregate
// combination rules over the accumulated finding set. For identical
// inputs and configuration the finding list is byte-for-byte
// reproducible; that determinism is a correctness requirement.
package rules

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/careops/spine/pkg/contracts"
	"github.com/careops/spine/pkg/thresholds"
)

// Rule judges one observation against the resolved thresholds. A rule is
// a pure function: no side effects, nil finding when nothing fires.
type Rule interface {
	ID() string
	Applies(kind contracts.SignalKind) bool
	Evaluate(obs contracts.Observation, set contracts.ThresholdSet) (*contracts.Finding, error)
}

// AggregateRule judges the accumulated finding set after all per-
// observation rules have run. Combination escalation lives here: multiple
// same-severity findings never escalate implicitly, only through an
// aggregate rule that emits its own higher-severity finding.
type AggregateRule interface {
	ID() string
	Evaluate(findings []contracts.Finding, set contracts.ThresholdSet) (*contracts.Finding, error)
}

// Report is the complete outcome of one evaluation pass. Evaluation
// always completes: rule failures and configuration gaps are recorded
// here, never thrown.
type Report struct {
	Findings []contracts.Finding

	// Unknowns lists everything this pass could not judge: band misses,
	// unclassified categorical values, failed rules.
	Unknowns []string

	// PresentKinds records which ingestable kinds appeared in the input.
	PresentKinds map[contracts.SignalKind]bool

	// MissingRequired lists required kinds absent from the input, in the
	// threshold set's required order.
	MissingRequired []contracts.SignalKind

	RuleFailures int
}

// FullCoverage reports whether every required signal kind was present and
// every observation was judged. Only a fully covered pass may support an
// ACCEPTABLE verdict.
func (r Report) FullCoverage() bool {
	return len(r.MissingRequired) == 0 && len(r.Unknowns) == 0
}

// Evaluator runs the rule set. Construct once and share; it is safe for
// concurrent use.
type Evaluator struct {
	rules      []Rule
	aggregates []AggregateRule
	guards     *guardCompiler
	logger     *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// WithRules replaces the built-in per-observation rule order.
func WithRules(rules ...Rule) Option {
	return func(e *Evaluator) { e.rules = rules }
}

// WithAggregateRules replaces the built-in aggregate rule order.
func WithAggregateRules(rules ...AggregateRule) Option {
	return func(e *Evaluator) { e.aggregates = rules }
}

// NewEvaluator builds an evaluator with the built-in rule set in its
// documented order.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		rules: []Rule{
			vitalBandRule{},
			medicationWindowRule{},
			taskStateRule{},
			deviceHealthRule{},
			staffingRatioRule{},
			patternAlertRule{},
		},
		aggregates: []AggregateRule{
			comboEscalationRule{},
		},
		guards: newGuardCompiler(),
		logger: slog.Default().With("component", "rules"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate applies the full rule order to the observations. It never
// fails: everything unjudgeable lands in the report's unknowns.
func (e *Evaluator) Evaluate(observations []contracts.Observation, set contracts.ThresholdSet) Report {
	report := Report{PresentKinds: make(map[contracts.SignalKind]bool)}

	sorted := sortObservations(observations)

	// Pre-pass: split into judgeable observations and unknowns. A band
	// miss means "cannot classify this signal", never "ignore it".
	var judgeable []contracts.Observation
	for _, obs := range sorted {
		report.PresentKinds[obs.Kind] = true

		if _, ok := set.Band(obs.Kind, obs.SubKey); !ok {
			miss := &thresholds.ResolutionError{
				Code:       thresholds.CodeNoThresholdConfigured,
				EntityID:   obs.EntityID,
				EntityType: obs.EntityType,
				Kind:       obs.Kind,
				SubKey:     obs.SubKey,
				Version:    set.Version,
			}
			report.Unknowns = append(report.Unknowns, miss.Error())
			continue
		}
		if !obs.IsNumeric() && obs.Category == contracts.CategoryUnclassified {
			report.Unknowns = append(report.Unknowns, fmt.Sprintf(
				"unclassified %s value from %s cannot be judged",
				contracts.BandKey(obs.Kind, obs.SubKey), obs.Source))
			continue
		}
		judgeable = append(judgeable, obs)
	}

	rules := e.rules
	if guards := e.guards.compile(set); len(guards) > 0 {
		rules = append(append([]Rule{}, e.rules...), guards...)
	}

	for _, rule := range rules {
		for _, obs := range judgeable {
			if !rule.Applies(obs.Kind) {
				continue
			}
			finding, failed := e.runRule(rule, obs, set)
			if failed != nil {
				report.Findings = append(report.Findings, *failed)
				report.Unknowns = append(report.Unknowns, failed.Reason)
				report.RuleFailures++
				continue
			}
			if finding != nil {
				report.Findings = append(report.Findings, *finding)
			}
		}
	}

	for _, agg := range e.aggregates {
		finding, err := agg.Evaluate(append([]contracts.Finding{}, report.Findings...), set)
		if err != nil {
			failure := ruleFailureFinding(agg.ID(), contracts.Observation{}, err)
			report.Findings = append(report.Findings, failure)
			report.Unknowns = append(report.Unknowns, failure.Reason)
			report.RuleFailures++
			continue
		}
		if finding != nil {
			report.Findings = append(report.Findings, *finding)
		}
	}

	for _, kind := range set.RequiredSignals {
		if !report.PresentKinds[kind] {
			report.MissingRequired = append(report.MissingRequired, kind)
		}
	}

	return report
}

// runRule isolates one rule invocation. A panicking or erroring rule must
// not abort the pass; its failure becomes a RULE_FAILURE finding.
func (e *Evaluator) runRule(rule Rule, obs contracts.Observation, set contracts.ThresholdSet) (finding *contracts.Finding, failure *contracts.Finding) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule panicked",
				"rule", rule.ID(), "signal", contracts.BandKey(obs.Kind, obs.SubKey), "panic", r)
			f := ruleFailureFinding(rule.ID(), obs, fmt.Errorf("panic: %v", r))
			finding = nil
			failure = &f
		}
	}()

	f, err := rule.Evaluate(obs, set)
	if err != nil {
		e.logger.Error("rule failed",
			"rule", rule.ID(), "signal", contracts.BandKey(obs.Kind, obs.SubKey), "error", err)
		ff := ruleFailureFinding(rule.ID(), obs, err)
		return nil, &ff
	}
	return f, nil
}

func ruleFailureFinding(ruleID string, obs contracts.Observation, err error) contracts.Finding {
	reason := fmt.Sprintf("rule %s failed: %v", ruleID, err)
	if obs.Kind != "" {
		reason = fmt.Sprintf("rule %s failed on %s: %v", ruleID, contracts.BandKey(obs.Kind, obs.SubKey), err)
	}
	return contracts.Finding{
		RuleID:     ruleID,
		Kind:       contracts.SignalRuleFailure,
		Severity:   contracts.ClassConcerning,
		Reason:     reason,
		OccurredAt: obs.ObservedAt,
	}
}

// sortObservations fixes the input order: kind, sub-key, timestamp,
// source, then the value itself (numeric before categorical) and unit.
// The order is total over every field a finding can derive from, so the
// finding list is independent of caller ordering even when two readings
// differ only in value.
func sortObservations(observations []contracts.Observation) []contracts.Observation {
	sorted := append([]contracts.Observation{}, observations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.SubKey != b.SubKey {
			return a.SubKey < b.SubKey
		}
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.IsNumeric() != b.IsNumeric() {
			return a.IsNumeric()
		}
		if a.IsNumeric() && *a.Numeric != *b.Numeric {
			return *a.Numeric < *b.Numeric
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Unit < b.Unit
	})
	return sorted
}
