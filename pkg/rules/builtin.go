package rules

import (
	"fmt"
	"strconv"

	"github.com/careops/spine/pkg/contracts"
)

// Built-in rule IDs, listed in application order. SAF- rules are safety
// rules and always run before OPS- workload rules.
const (
	RuleVitalBand        = "SAF-VITAL-BAND"
	RuleMedicationWindow = "SAF-MED-WINDOW"
	RuleTaskState        = "OPS-TASK-STATE"
	RuleDeviceHealth     = "OPS-DEVICE-HEALTH"
	RuleStaffingRatio    = "OPS-STAFF-RATIO"
	RulePatternAlert     = "OPS-PATTERN"
	RuleComboEscalation  = "ESC-COMBO-001"
)

// numericSeverity grades a numeric value against a band: beyond a
// critical cutoff is CRITICAL, beyond the low/high pair is UNSAFE,
// inside the band is no finding. The boundaries are asymmetric on
// purpose: a value exactly at critical_low/critical_high is already
// CRITICAL, while a value exactly at low/high is still inside the safe
// band. Pack authors set critical cutoffs as the first dangerous value,
// and low/high as the last safe one.
func numericSeverity(v float64, band contracts.Band) (contracts.Classification, string, bool) {
	if band.CriticalHigh != nil && v >= *band.CriticalHigh {
		return contracts.ClassCritical, fmt.Sprintf("critical_high %s", renderValue(*band.CriticalHigh, band.Unit)), true
	}
	if band.CriticalLow != nil && v <= *band.CriticalLow {
		return contracts.ClassCritical, fmt.Sprintf("critical_low %s", renderValue(*band.CriticalLow, band.Unit)), true
	}
	if band.High != nil && v > *band.High {
		return contracts.ClassUnsafe, fmt.Sprintf("high %s", renderValue(*band.High, band.Unit)), true
	}
	if band.Low != nil && v < *band.Low {
		return contracts.ClassUnsafe, fmt.Sprintf("low %s", renderValue(*band.Low, band.Unit)), true
	}
	return "", "", false
}

// categorySeverity grades a categorical value against a band's category
// lists.
func categorySeverity(category string, band contracts.Band) (contracts.Classification, bool) {
	for _, c := range band.CriticalCategories {
		if c == category {
			return contracts.ClassCritical, true
		}
	}
	for _, c := range band.WarnCategories {
		if c == category {
			return contracts.ClassConcerning, true
		}
	}
	return "", false
}

func renderValue(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit == "" {
		return s
	}
	return s + " " + unit
}

func renderObserved(obs contracts.Observation) string {
	if obs.IsNumeric() {
		return renderValue(*obs.Numeric, obs.Unit)
	}
	return obs.Category
}

// bandFinding is the shared body of the built-in band rules: grade the
// observation against its band and wrap the crossing in a finding with
// the given reason wording.
func bandFinding(ruleID string, obs contracts.Observation, set contracts.ThresholdSet, describe func(severity contracts.Classification, obs contracts.Observation) string) *contracts.Finding {
	band, ok := set.Band(obs.Kind, obs.SubKey)
	if !ok {
		// The evaluator filters band misses before rules run.
		return nil
	}

	var (
		severity  contracts.Classification
		threshold string
		fired     bool
	)
	if obs.IsNumeric() {
		severity, threshold, fired = numericSeverity(*obs.Numeric, band)
	} else {
		severity, fired = categorySeverity(obs.Category, band)
		if fired {
			threshold = "category " + obs.Category
		}
	}
	if !fired {
		return nil
	}

	return &contracts.Finding{
		RuleID:     ruleID,
		Kind:       obs.Kind,
		Severity:   severity,
		Reason:     describe(severity, obs),
		Observed:   renderObserved(obs),
		Threshold:  threshold,
		OccurredAt: obs.ObservedAt,
	}
}

type vitalBandRule struct{}

func (vitalBandRule) ID() string                             { return RuleVitalBand }
func (vitalBandRule) Applies(k contracts.SignalKind) bool    { return k == contracts.SignalVital }
func (vitalBandRule) Evaluate(obs contracts.Observation, set contracts.ThresholdSet) (*contracts.Finding, error) {
	return bandFinding(RuleVitalBand, obs, set, func(severity contracts.Classification, obs contracts.Observation) string {
		if severity == contracts.ClassCritical {
			return fmt.Sprintf("%s at %s is beyond the critical cutoff", vitalName(obs), renderObserved(obs))
		}
		return fmt.Sprintf("%s at %s is outside the safe band", vitalName(obs), renderObserved(obs))
	}), nil
}

func vitalName(obs contracts.Observation) string {
	if obs.SubKey != "" {
		return obs.SubKey
	}
	return "vital"
}

type medicationWindowRule struct{}

func (medicationWindowRule) ID() string                          { return RuleMedicationWindow }
func (medicationWindowRule) Applies(k contracts.SignalKind) bool { return k == contracts.SignalMedication }
func (medicationWindowRule) Evaluate(obs contracts.Observation, set contracts.ThresholdSet) (*contracts.Finding, error) {
	return bandFinding(RuleMedicationWindow, obs, set, func(severity contracts.Classification, obs contracts.Observation) string {
		name := obs.SubKey
		if name == "" {
			name = "medication"
		}
		if obs.IsNumeric() {
			return fmt.Sprintf("%s is %s past its administration window", name, renderObserved(obs))
		}
		return fmt.Sprintf("%s administration recorded as %s", name, obs.Category)
	}), nil
}

type taskStateRule struct{}

func (taskStateRule) ID() string                          { return RuleTaskState }
func (taskStateRule) Applies(k contracts.SignalKind) bool { return k == contracts.SignalTask }
func (taskStateRule) Evaluate(obs contracts.Observation, set contracts.ThresholdSet) (*contracts.Finding, error) {
	return bandFinding(RuleTaskState, obs, set, func(_ contracts.Classification, obs contracts.Observation) string {
		name := obs.SubKey
		if name == "" {
			name = "care task"
		}
		return fmt.Sprintf("%s is %s", name, obs.Category)
	}), nil
}

type deviceHealthRule struct{}

func (deviceHealthRule) ID() string                          { return RuleDeviceHealth }
func (deviceHealthRule) Applies(k contracts.SignalKind) bool { return k == contracts.SignalDevice }
func (deviceHealthRule) Evaluate(obs contracts.Observation, set contracts.ThresholdSet) (*contracts.Finding, error) {
	return bandFinding(RuleDeviceHealth, obs, set, func(_ contracts.Classification, obs contracts.Observation) string {
		name := obs.SubKey
		if name == "" {
			name = "device"
		}
		return fmt.Sprintf("%s reports %s", name, obs.Category)
	}), nil
}

type staffingRatioRule struct{}

func (staffingRatioRule) ID() string                          { return RuleStaffingRatio }
func (staffingRatioRule) Applies(k contracts.SignalKind) bool { return k == contracts.SignalStaffing }
func (staffingRatioRule) Evaluate(obs contracts.Observation, set contracts.ThresholdSet) (*contracts.Finding, error) {
	return bandFinding(RuleStaffingRatio, obs, set, func(severity contracts.Classification, obs contracts.Observation) string {
		if severity == contracts.ClassCritical {
			return fmt.Sprintf("workload ratio at %s is beyond the critical ceiling", renderObserved(obs))
		}
		return fmt.Sprintf("workload ratio at %s exceeds the configured ceiling", renderObserved(obs))
	}), nil
}

type patternAlertRule struct{}

func (patternAlertRule) ID() string                          { return RulePatternAlert }
func (patternAlertRule) Applies(k contracts.SignalKind) bool { return k == contracts.SignalPattern }
func (patternAlertRule) Evaluate(obs contracts.Observation, set contracts.ThresholdSet) (*contracts.Finding, error) {
	return bandFinding(RulePatternAlert, obs, set, func(_ contracts.Classification, obs contracts.Observation) string {
		return fmt.Sprintf("pattern detection reports %s", obs.Category)
	}), nil
}
