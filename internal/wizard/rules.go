package wizard

import (
	"fmt"
	"strings"

	"github.com/pitabwire/surety/model"
)

// condition is a parsed "field == 'value'" or "field != 'value'" test.
type condition struct {
	field string
	op    string
	value string
}

func parseCondition(s string) (condition, error) {
	for _, op := range []string{"!=", "=="} {
		if left, right, ok := strings.Cut(s, op); ok {
			field := strings.TrimSpace(left)
			if field == "" {
				return condition{}, fmt.Errorf("condition %q has no field", s)
			}
			return condition{
				field: field,
				op:    op,
				value: trimQuotes(strings.TrimSpace(right)),
			}, nil
		}
	}
	return condition{}, fmt.Errorf("condition %q must use == or !=", s)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func (c condition) holds(state *model.StepState) bool {
	actual := state.String(c.field)
	if c.op == "==" {
		return actual == c.value
	}
	return actual != c.value
}

// conditionHolds evaluates s against state. Unparseable conditions never
// hold; the validator rejects them at load time.
func conditionHolds(s string, state *model.StepState) bool {
	c, err := parseCondition(s)
	if err != nil {
		return false
	}
	return c.holds(state)
}

// Passes reports whether state satisfies the rule.
func (r Rule) Passes(state *model.StepState) bool {
	if r.When != "" && !conditionHolds(r.When, state) {
		return true
	}
	for _, f := range r.Required {
		if !state.IsSet(f) {
			return false
		}
	}
	if len(r.AnyOf) > 0 {
		for _, f := range r.AnyOf {
			if state.IsSet(f) {
				return true
			}
		}
		return false
	}
	return true
}

// Evaluate runs the step's rules in order and returns the message of the
// first one that fails, or "" when the step is valid. A step whose
// skip_validation_when condition holds is always valid.
func Evaluate(step StepDefinition, state *model.StepState) string {
	if step.SkipValidationWhen != "" && conditionHolds(step.SkipValidationWhen, state) {
		return ""
	}
	for _, rule := range step.Rules {
		if !rule.Passes(state) {
			return rule.Message
		}
	}
	return ""
}
