package contracts

// Classification is the four-class severity verdict of one evaluation pass.
// Precedence is strict: any CRITICAL finding outranks everything, then
// UNSAFE, then CONCERNING. Severity is categorical, never additive.
type Classification string

const (
	ClassCritical   Classification = "CRITICAL"
	ClassUnsafe     Classification = "UNSAFE"
	ClassConcerning Classification = "CONCERNING"
	ClassAcceptable Classification = "ACCEPTABLE"
)

// Rank maps a classification to its severity rank. Higher is worse.
// Unknown values rank below ACCEPTABLE so a corrupted record can never
// masquerade as an escalation.
func (c Classification) Rank() int {
	switch c {
	case ClassCritical:
		return 3
	case ClassUnsafe:
		return 2
	case ClassConcerning:
		return 1
	case ClassAcceptable:
		return 0
	}
	return -1
}

// KnownClassification reports whether c is one of the four classes.
func KnownClassification(c Classification) bool {
	return c.Rank() >= 0
}

// Trend relates a new classification to the entity's previous one.
type Trend string

const (
	TrendWorsening Trend = "WORSENING"
	TrendStable    Trend = "STABLE"
	TrendImproving Trend = "IMPROVING"

	// TrendNoHistory marks the first-ever evaluation of an entity. It is an
	// explicit state, never defaulted to STABLE.
	TrendNoHistory Trend = "NO_HISTORY"
)
