// Package rules evaluates governance rules against a normalized intent
// using CEL expressions. Any DENY decision terminates the run before plan
// selection.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Effect is what a matched rule does to the run.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Rule is one named CEL predicate over the normalized intent.
type Rule struct {
	Name   string `json:"name" yaml:"name"`
	Expr   string `json:"expr" yaml:"expr"`
	Effect Effect `json:"effect" yaml:"effect"`
}

// Decision records one matched rule.
type Decision struct {
	Rule   string `json:"rule"`
	Effect Effect `json:"effect"`
	Reason string `json:"reason,omitempty"`
}

// Input is the evaluation context a rule expression sees.
type Input struct {
	Intent      string
	Sensitivity string
	Confidence  float64
	Args        map[string]any
}

// DefaultRules is the shipped system rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "deny.sensitive_delete",
			Expr:   `intent == "delete_artifact" && sensitivity == "sensitive"`,
			Effect: EffectDeny,
		},
		{
			Name:   "deny.unknown_sensitive",
			Expr:   `intent == "unknown" && sensitivity == "sensitive"`,
			Effect: EffectDeny,
		},
		{
			Name:   "deny.forced_delete_without_reason",
			Expr:   `intent == "delete_artifact" && ("force" in args) && args.force == true && !("reason" in args)`,
			Effect: EffectDeny,
		},
	}
}

// Engine compiles rules once and evaluates them in order.
type Engine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
	rules    []Rule
}

// NewEngine compiles the rule set. A rule that fails to compile is a
// configuration error and rejects the whole set.
func NewEngine(ruleSet []Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.StringType),
		cel.Variable("sensitivity", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("args", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env, programs: make(map[string]cel.Program), rules: ruleSet}
	for _, rule := range ruleSet {
		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q failed to compile: %w", rule.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q failed to build: %w", rule.Name, err)
		}
		e.programs[rule.Name] = prg
	}
	return e, nil
}

// Evaluate runs every rule against the input and returns the decisions of
// those that matched. A rule whose evaluation errors fails closed: it is
// reported as a DENY with the error as the reason.
func (e *Engine) Evaluate(ctx context.Context, input Input) ([]Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := input.Args
	if args == nil {
		args = map[string]any{}
	}
	vars := map[string]any{
		"intent":      input.Intent,
		"sensitivity": input.Sensitivity,
		"confidence":  input.Confidence,
		"args":        args,
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var decisions []Decision
	for _, rule := range e.rules {
		out, _, err := e.programs[rule.Name].Eval(vars)
		if err != nil {
			decisions = append(decisions, Decision{
				Rule:   rule.Name,
				Effect: EffectDeny,
				Reason: "rule evaluation failed: " + err.Error(),
			})
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok {
			decisions = append(decisions, Decision{
				Rule:   rule.Name,
				Effect: EffectDeny,
				Reason: "rule did not evaluate to a boolean",
			})
			continue
		}
		if matched {
			decisions = append(decisions, Decision{Rule: rule.Name, Effect: rule.Effect})
		}
	}
	return decisions, nil
}

// Denied reports whether any decision denies the run.
func Denied(decisions []Decision) (Decision, bool) {
	for _, d := range decisions {
		if d.Effect == EffectDeny {
			return d, true
		}
	}
	return Decision{}, false
}
