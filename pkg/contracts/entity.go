// Package contracts defines the shared value types of the decision spine:
// observations, threshold sets, findings, judgments, and ledger entries.
//
// Everything in this package is an immutable value. An evaluation pass
// creates new values; nothing here is ever edited in place.
package contracts

// EntityType is the closed set of entity kinds the spine can judge.
// Adding a type means adding a row to the required-signal and
// accountability tables of a threshold pack, not a new hierarchy.
type EntityType string

const (
	EntityResident   EntityType = "RESIDENT"
	EntityDepartment EntityType = "DEPARTMENT"
	EntityCaregiver  EntityType = "CAREGIVER"
)

// KnownEntityType reports whether et is one of the supported entity types.
func KnownEntityType(et EntityType) bool {
	switch et {
	case EntityResident, EntityDepartment, EntityCaregiver:
		return true
	}
	return false
}

// SignalKind identifies the source family of an observation.
type SignalKind string

const (
	SignalVital      SignalKind = "VITAL"
	SignalMedication SignalKind = "MEDICATION"
	SignalTask       SignalKind = "TASK"
	SignalDevice     SignalKind = "DEVICE"
	SignalStaffing   SignalKind = "STAFFING"
	SignalPattern    SignalKind = "PATTERN"

	// SignalRuleFailure is not an ingestable kind. It tags findings produced
	// when a rule itself fails, so a broken rule is visible in the output
	// instead of aborting the pass.
	SignalRuleFailure SignalKind = "RULE_FAILURE"
)

// KnownSignalKind reports whether k is an ingestable signal kind.
// RULE_FAILURE is deliberately excluded: it is an output marker only.
func KnownSignalKind(k SignalKind) bool {
	switch k {
	case SignalVital, SignalMedication, SignalTask, SignalDevice, SignalStaffing, SignalPattern:
		return true
	}
	return false
}
