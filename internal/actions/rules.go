package actions

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Plabrum/arive/internal/apperror"
)

// CompileRule compiles the guard expression ahead of dispatch so malformed
// rules fail at registration time, not on the first trigger.
func CompileRule(r *Rule) error {
	prog, err := expr.Compile(r.Expression, expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile rule %q: %w", r.Expression, err)
	}
	r.compiled = prog
	return nil
}

// EvaluateRules runs every guard against the current record and payload.
// A rule evaluating to true is a violation.
func EvaluateRules(rules []*Rule, record, payload map[string]any, actor Actor) []apperror.ErrorDetail {
	if len(rules) == 0 {
		return nil
	}

	env := map[string]any{
		"record":      record,
		"payload":     payload,
		"actor_email": actor.Email,
	}

	var errs []apperror.ErrorDetail
	for _, r := range rules {
		prog, ok := r.compiled.(*vm.Program)
		if !ok || prog == nil {
			compiled, err := expr.Compile(r.Expression, expr.AsBool())
			if err != nil {
				errs = append(errs, apperror.ErrorDetail{Rule: "expression", Message: fmt.Sprintf("compile error: %v", err)})
				continue
			}
			r.compiled = compiled
			prog = compiled
		}

		result, err := expr.Run(prog, env)
		if err != nil {
			errs = append(errs, apperror.ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)})
			continue
		}

		violated, ok := result.(bool)
		if ok && violated {
			msg := r.Message
			if msg == "" {
				msg = "Action rule violated"
			}
			errs = append(errs, apperror.ErrorDetail{Rule: "expression", Message: msg})
		}
	}
	return errs
}
