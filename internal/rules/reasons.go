// Package rules provides the CEL-Go based reason rule evaluator. Reason
// rules decide which human-readable explanations attach to a flagged
// prediction.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// ReasonRule pairs a CEL condition over prediction variables with the
// reason string surfaced when the condition holds.
type ReasonRule struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
}

// BuiltinReasonRules returns the fixed reason rules, in the order their
// reasons appear in responses.
func BuiltinReasonRules() []ReasonRule {
	return []ReasonRule{
		{
			ID:         "high-amount",
			Expression: "amount > 10000.0",
			Reason:     "Unusually high transaction amount",
		},
		{
			ID:         "unusual-hours",
			Expression: "hour_of_day in [0, 1, 2, 3, 22, 23]",
			Reason:     "Transaction during unusual hours",
		},
		{
			ID:         "model-anomaly",
			Expression: "prediction == -1",
			Reason:     "Anomaly detected by ML model",
		},
	}
}

// Engine holds pre-compiled reason rules. Rules are compiled once at
// construction; evaluation order follows declaration order.
type Engine struct {
	env   *cel.Env
	rules []compiledReason
}

type compiledReason struct {
	rule    ReasonRule
	program cel.Program
}

// NewEngine compiles the given reason rules into an evaluator.
func NewEngine(ruleSet []ReasonRule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour_of_day", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("prediction", cel.IntType),
		cel.Variable("anomaly_score", cel.DoubleType),
		cel.Variable("risk_score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	for _, r := range ruleSet {
		compiled, err := e.compile(r)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
	}
	return e, nil
}

// Input holds the variables reason rules can reference.
type Input struct {
	Amount       float64
	HourOfDay    int
	DayOfWeek    int
	Prediction   int
	AnomalyScore float64
	RiskScore    float64
}

// Evaluate runs every rule against the input and returns the reasons of
// the rules whose conditions hold, in rule order.
func (e *Engine) Evaluate(in *Input) ([]string, error) {
	activation := map[string]any{
		"amount":        in.Amount,
		"hour_of_day":   in.HourOfDay,
		"day_of_week":   in.DayOfWeek,
		"prediction":    in.Prediction,
		"anomaly_score": in.AnomalyScore,
		"risk_score":    in.RiskScore,
	}

	var reasons []string
	for _, r := range e.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.rule.ID, err)
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			reasons = append(reasons, r.rule.Reason)
		}
	}
	return reasons, nil
}

// RulesCount returns the number of compiled rules.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

func (e *Engine) compile(r ReasonRule) (compiledReason, error) {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledReason{}, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return compiledReason{}, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return compiledReason{}, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}

	return compiledReason{rule: r, program: program}, nil
}
