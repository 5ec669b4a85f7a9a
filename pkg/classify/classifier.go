// Package classify reduces a finding set to the single four-class verdict
// and computes trend and time-in-state from the entity's ledger history.
//
// The reducer is deliberately total and simple: highest severity wins,
// nothing blends, nothing escalates here. Escalation-by-combination is a
// rule concern and arrives as one more finding.
package classify

import (
	"time"

	"github.com/careops/spine/pkg/contracts"
)

// Classify reduces findings by strict precedence: any CRITICAL finding
// wins, else any UNSAFE, else any CONCERNING, else ACCEPTABLE. Multiple
// findings at the same severity do not escalate further.
func Classify(findings []contracts.Finding) contracts.Classification {
	verdict := contracts.ClassAcceptable
	for _, f := range findings {
		if f.Severity.Rank() > verdict.Rank() {
			verdict = f.Severity
		}
	}
	return verdict
}

// TrendOf compares the new classification to the most recent ledger entry.
// History is newest-first. The first-ever evaluation has no trend: that is
// an explicit NO_HISTORY, never defaulted to STABLE.
func TrendOf(next contracts.Classification, history []contracts.LedgerEntry) contracts.Trend {
	if len(history) == 0 {
		return contracts.TrendNoHistory
	}
	prev := history[0].Judgment.Classification
	switch {
	case next.Rank() < prev.Rank():
		return contracts.TrendImproving
	case next.Rank() > prev.Rank():
		return contracts.TrendWorsening
	}
	return contracts.TrendStable
}

// StateStreak counts how many consecutive newest ledger entries share the
// given classification, stopping at the first entry that differs. The
// pass being classified counts as one, so a fresh entity streaks at 1.
func StateStreak(next contracts.Classification, history []contracts.LedgerEntry) int {
	streak := 1
	for _, entry := range history {
		if entry.Judgment.Classification != next {
			break
		}
		streak++
	}
	return streak
}

// DaysInState converts the current streak into whole days, measured from
// the evaluation time of the oldest entry in the streak. A state held for
// less than a day reports 0.
func DaysInState(now time.Time, next contracts.Classification, history []contracts.LedgerEntry) int {
	start := now
	for _, entry := range history {
		if entry.Judgment.Classification != next {
			break
		}
		start = entry.Judgment.EvaluatedAt
	}
	days := int(now.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
