package workflow

import (
	"encoding/json"
	"fmt"
)

// ChoiceRule is a single comparison evaluated by a ChoiceNode. Exactly one
// operator field is expected to be set; Variable is a JSONPath into the
// document.
type ChoiceRule struct {
	Variable      string
	StringEquals  *string
	BooleanEquals *bool
	NumericEquals *float64
	IsPresent     *bool
	Next          string
}

// StringEquals builds a rule matching a string value.
func StringEquals(variable, value, next string) ChoiceRule {
	return ChoiceRule{Variable: variable, StringEquals: &value, Next: next}
}

// BooleanEquals builds a rule matching a boolean value.
func BooleanEquals(variable string, value bool, next string) ChoiceRule {
	return ChoiceRule{Variable: variable, BooleanEquals: &value, Next: next}
}

// NumericEquals builds a rule matching a numeric value.
func NumericEquals(variable string, value float64, next string) ChoiceRule {
	return ChoiceRule{Variable: variable, NumericEquals: &value, Next: next}
}

// IsPresent builds a rule matching presence (or absence) of a value.
func IsPresent(variable string, present bool, next string) ChoiceRule {
	return ChoiceRule{Variable: variable, IsPresent: &present, Next: next}
}

// operator returns the name of the operator set on the rule.
func (r ChoiceRule) operator() string {
	switch {
	case r.StringEquals != nil:
		return "StringEquals"
	case r.BooleanEquals != nil:
		return "BooleanEquals"
	case r.NumericEquals != nil:
		return "NumericEquals"
	case r.IsPresent != nil:
		return "IsPresent"
	default:
		return ""
	}
}

// Evaluate applies the rule to doc. Type mismatches evaluate to false.
func (r ChoiceRule) Evaluate(doc Document) bool {
	value, present := doc.Get(r.Variable)

	switch {
	case r.IsPresent != nil:
		return present == *r.IsPresent
	case !present:
		return false
	case r.StringEquals != nil:
		s, ok := value.(string)
		return ok && s == *r.StringEquals
	case r.BooleanEquals != nil:
		b, ok := value.(bool)
		return ok && b == *r.BooleanEquals
	case r.NumericEquals != nil:
		f, ok := toFloat(value)
		return ok && f == *r.NumericEquals
	default:
		return false
	}
}

func (r ChoiceRule) String() string {
	switch {
	case r.StringEquals != nil:
		return fmt.Sprintf("%s == %q", r.Variable, *r.StringEquals)
	case r.BooleanEquals != nil:
		return fmt.Sprintf("%s == %t", r.Variable, *r.BooleanEquals)
	case r.NumericEquals != nil:
		return fmt.Sprintf("%s == %v", r.Variable, *r.NumericEquals)
	case r.IsPresent != nil:
		return fmt.Sprintf("present(%s) == %t", r.Variable, *r.IsPresent)
	default:
		return r.Variable
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
