package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/careops/spine/pkg/contracts"
)

// guardEnv declares the variables a guard condition may reference. The
// vocabulary is fixed so conditions stay pure functions of the single
// observation they see: no clock, no history, no external state.
func guardEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("sub_key", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("numeric", cel.DoubleType),
		cel.Variable("has_numeric", cel.BoolType),
		cel.Variable("unit", cel.StringType),
		cel.Variable("source", cel.StringType),
	)
}

// guardRule adapts one configuration-defined CEL condition to the Rule
// interface.
type guardRule struct {
	spec contracts.GuardRule
	prg  cel.Program
	err  error
}

func (g *guardRule) ID() string { return g.spec.RuleID }

func (g *guardRule) Applies(k contracts.SignalKind) bool { return k == g.spec.Kind }

func (g *guardRule) Evaluate(obs contracts.Observation, _ contracts.ThresholdSet) (*contracts.Finding, error) {
	if g.err != nil {
		// Compilation failed; surface it as a rule failure on first use.
		return nil, g.err
	}

	numeric := 0.0
	if obs.IsNumeric() {
		numeric = *obs.Numeric
	}
	out, _, err := g.prg.Eval(map[string]any{
		"kind":        string(obs.Kind),
		"sub_key":     obs.SubKey,
		"category":    obs.Category,
		"numeric":     numeric,
		"has_numeric": obs.IsNumeric(),
		"unit":        obs.Unit,
		"source":      obs.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("guard condition: %w", err)
	}

	fired, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("guard condition returned %T, want bool", out.Value())
	}
	if !fired {
		return nil, nil
	}

	reason := g.spec.Description
	if reason == "" {
		reason = fmt.Sprintf("guard rule %s matched", g.spec.RuleID)
	}
	return &contracts.Finding{
		RuleID:     g.spec.RuleID,
		Kind:       obs.Kind,
		Severity:   g.spec.Severity,
		Reason:     reason,
		Observed:   renderObserved(obs),
		Threshold:  "condition: " + g.spec.Condition,
		OccurredAt: obs.ObservedAt,
	}, nil
}

// guardCompiler compiles guard conditions once per (pack version, rule)
// and caches the programs. Compilation failures are cached too, so a
// broken condition reports the same RULE_FAILURE every pass.
type guardCompiler struct {
	mu       sync.Mutex
	env      *cel.Env
	envErr   error
	compiled map[string][]Rule // keyed by pack version + entity type
}

func newGuardCompiler() *guardCompiler {
	env, err := guardEnv()
	return &guardCompiler{env: env, envErr: err, compiled: make(map[string][]Rule)}
}

func (c *guardCompiler) compile(set contracts.ThresholdSet) []Rule {
	if len(set.GuardRules) == 0 {
		return nil
	}

	key := set.Version + "/" + string(set.EntityType)

	c.mu.Lock()
	defer c.mu.Unlock()
	if rules, ok := c.compiled[key]; ok {
		return rules
	}

	rules := make([]Rule, 0, len(set.GuardRules))
	for _, spec := range set.GuardRules {
		g := &guardRule{spec: spec}
		if c.envErr != nil {
			g.err = fmt.Errorf("guard environment: %w", c.envErr)
			rules = append(rules, g)
			continue
		}
		ast, issues := c.env.Compile(spec.Condition)
		if issues != nil && issues.Err() != nil {
			g.err = fmt.Errorf("compile guard condition: %w", issues.Err())
			rules = append(rules, g)
			continue
		}
		prg, err := c.env.Program(ast)
		if err != nil {
			g.err = fmt.Errorf("build guard program: %w", err)
			rules = append(rules, g)
			continue
		}
		g.prg = prg
		rules = append(rules, g)
	}

	c.compiled[key] = rules
	return rules
}
