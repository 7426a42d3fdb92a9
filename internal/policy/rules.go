package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Rule is an expression write guard attached to a model policy. The
// expression evaluates to true when the rule is VIOLATED, against an
// environment of {record, principal, action}.
type Rule struct {
	Name       string `mapstructure:"name" json:"name"`
	Expression string `mapstructure:"expression" json:"expression"`
	Message    string `mapstructure:"message" json:"message,omitempty"`

	compiled *vm.Program
}

// RuleViolation reports one violated write rule.
type RuleViolation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// CompileRule compiles the rule expression into an expr program.
func CompileRule(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile rule: %w", err)
	}
	return prog, nil
}

// Evaluate runs the rule against the environment, compiling lazily on
// first use. Returns nil when the rule passes.
func (r *Rule) Evaluate(env map[string]any) *RuleViolation {
	if r.compiled == nil {
		prog, err := CompileRule(r.Expression)
		if err != nil {
			return &RuleViolation{Rule: r.Name, Message: fmt.Sprintf("compile error: %v", err)}
		}
		r.compiled = prog
	}

	result, err := expr.Run(r.compiled, env)
	if err != nil {
		return &RuleViolation{Rule: r.Name, Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}

	violated, ok := result.(bool)
	if !ok || !violated {
		return nil
	}

	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("write rule %s violated", r.Name)
	}
	return &RuleViolation{Rule: r.Name, Message: msg}
}

// EvaluateWriteRules runs all write rules for a model against the write
// payload. The environment exposes the record being written, the caller
// principal claims and the action name (create, update, bulk_update).
func EvaluateWriteRules(mp *ModelPolicy, record map[string]any, principal map[string]any, action string) []RuleViolation {
	if mp == nil || len(mp.WriteRules) == 0 {
		return nil
	}

	env := map[string]any{
		"record":    record,
		"principal": principal,
		"action":    action,
	}

	var violations []RuleViolation
	for _, rule := range mp.WriteRules {
		if v := rule.Evaluate(env); v != nil {
			violations = append(violations, *v)
		}
	}
	return violations
}
