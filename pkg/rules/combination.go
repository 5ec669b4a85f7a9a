package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/careops/spine/pkg/contracts"
)

// comboEscalationRule is the one place where co-occurring findings may
// escalate beyond their individual severities. Two or more UNSAFE
// findings across distinct signal kinds indicate a compounding situation
// and produce a single CRITICAL finding of their own; the classifier
// itself never blends severities.
type comboEscalationRule struct{}

func (comboEscalationRule) ID() string { return RuleComboEscalation }

func (comboEscalationRule) Evaluate(findings []contracts.Finding, _ contracts.ThresholdSet) (*contracts.Finding, error) {
	kinds := make(map[contracts.SignalKind]bool)
	var latest time.Time
	for _, f := range findings {
		if f.Severity != contracts.ClassUnsafe || f.IsRuleFailure() {
			continue
		}
		kinds[f.Kind] = true
		if f.OccurredAt.After(latest) {
			latest = f.OccurredAt
		}
	}
	if len(kinds) < 2 {
		return nil, nil
	}

	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)

	return &contracts.Finding{
		RuleID:   RuleComboEscalation,
		Kind:     contracts.SignalPattern,
		Severity: contracts.ClassCritical,
		Reason: fmt.Sprintf("unsafe conditions across %s are compounding",
			strings.Join(names, " and ")),
		Observed:   fmt.Sprintf("%d concurrent unsafe signal kinds", len(kinds)),
		Threshold:  "2 concurrent unsafe signal kinds",
		OccurredAt: latest,
	}, nil
}
