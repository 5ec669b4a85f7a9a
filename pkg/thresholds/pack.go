// Package thresholds resolves the versioned configuration that
// parameterizes every evaluation: threshold bands, baselines, required
// signal coverage, deadline scaling, guard rules, and accountability.
//
// A pack is an immutable, semver-versioned document. "Updating thresholds"
// publishes a new version; nothing here mutates in place, which is what
// keeps evaluation deterministic under the external governance process
// that tunes these values.
package thresholds

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/careops/spine/pkg/contracts"
)

// EntityConfig is the per-entity-type section of a pack document.
type EntityConfig struct {
	RequiredSignals []contracts.SignalKind                 `yaml:"required_signals" json:"required_signals"`
	Accountability  contracts.Accountability               `yaml:"accountability" json:"accountability"`
	Deadlines       map[contracts.Classification]string    `yaml:"deadlines" json:"deadlines"`
	Bands           map[string]contracts.Band              `yaml:"bands" json:"bands"`
	GuardRules      []contracts.GuardRule                  `yaml:"guard_rules,omitempty" json:"guard_rules,omitempty"`
}

// EntityOverride narrows bands for one specific entity, e.g. a resident
// with a clinician-set heart-rate band.
type EntityOverride struct {
	Bands map[string]contracts.Band `yaml:"bands" json:"bands"`
}

// Pack is one published threshold configuration version.
type Pack struct {
	Version         string                                  `yaml:"version" json:"version"`
	Entities        map[contracts.EntityType]EntityConfig   `yaml:"entities" json:"entities"`
	EntityOverrides map[string]EntityOverride               `yaml:"entity_overrides,omitempty" json:"entity_overrides,omitempty"`

	semver *semver.Version
}

// ParsePack decodes and validates a YAML pack document.
func ParsePack(doc []byte) (*Pack, error) {
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	var p Pack
	if err := yaml.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("thresholds: parse pack: %w", err)
	}

	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("thresholds: pack version %q: %w", p.Version, err)
	}
	p.semver = v

	for et, cfg := range p.Entities {
		if !contracts.KnownEntityType(et) {
			return nil, fmt.Errorf("thresholds: pack %s: unknown entity type %q", p.Version, et)
		}
		if cfg.Accountability.Role == "" {
			return nil, fmt.Errorf("thresholds: pack %s: entity %s: accountability role is required", p.Version, et)
		}
		for class, raw := range cfg.Deadlines {
			if !contracts.KnownClassification(class) {
				return nil, fmt.Errorf("thresholds: pack %s: entity %s: unknown deadline class %q", p.Version, et, class)
			}
			if _, err := time.ParseDuration(raw); err != nil {
				return nil, fmt.Errorf("thresholds: pack %s: entity %s: deadline %s: %w", p.Version, et, class, err)
			}
		}
		for _, gr := range cfg.GuardRules {
			if gr.RuleID == "" || gr.Condition == "" {
				return nil, fmt.Errorf("thresholds: pack %s: entity %s: guard rule missing id or condition", p.Version, et)
			}
			if !contracts.KnownClassification(gr.Severity) {
				return nil, fmt.Errorf("thresholds: pack %s: guard rule %s: unknown severity %q", p.Version, gr.RuleID, gr.Severity)
			}
		}
	}

	return &p, nil
}

// Semver returns the parsed version, parsing lazily for packs built in
// code rather than from a document.
func (p *Pack) Semver() (*semver.Version, error) {
	if p.semver != nil {
		return p.semver, nil
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("thresholds: pack version %q: %w", p.Version, err)
	}
	p.semver = v
	return v, nil
}

// thresholdSet materializes the resolved ThresholdSet for one entity,
// applying any per-entity band overrides on top of the entity-type bands.
func (p *Pack) thresholdSet(entityID string, et contracts.EntityType) (contracts.ThresholdSet, bool) {
	cfg, ok := p.Entities[et]
	if !ok {
		return contracts.ThresholdSet{}, false
	}

	bands := make(map[string]contracts.Band, len(cfg.Bands))
	for k, b := range cfg.Bands {
		bands[k] = b
	}
	if ov, ok := p.EntityOverrides[entityID]; ok {
		for k, b := range ov.Bands {
			bands[k] = b
		}
	}

	deadlines := make(map[contracts.Classification]time.Duration, len(cfg.Deadlines))
	for class, raw := range cfg.Deadlines {
		d, err := time.ParseDuration(raw)
		if err != nil {
			// ParsePack already rejected malformed durations; a pack built
			// in code with a bad duration simply loses that entry.
			continue
		}
		deadlines[class] = d
	}

	required := make([]contracts.SignalKind, len(cfg.RequiredSignals))
	copy(required, cfg.RequiredSignals)

	rules := make([]contracts.GuardRule, len(cfg.GuardRules))
	copy(rules, cfg.GuardRules)

	return contracts.ThresholdSet{
		Version:         p.Version,
		EntityType:      et,
		Bands:           bands,
		RequiredSignals: required,
		Deadlines:       deadlines,
		Accountability:  cfg.Accountability,
		GuardRules:      rules,
	}, true
}
