package models

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ConditionOperator is a predicate over one instance variable.
type ConditionOperator string

const (
	OperatorEquals    ConditionOperator = "eq"
	OperatorNotEquals ConditionOperator = "ne"
	OperatorIn        ConditionOperator = "in"
	OperatorNotIn     ConditionOperator = "not_in"
	OperatorExists    ConditionOperator = "exists"
)

// Condition compares a variable against an expected value.
type Condition struct {
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

// ConditionSet maps variable names to conditions. All conditions must hold
// (logical AND) for the set to pass. An empty set always passes.
type ConditionSet map[string]Condition

// UnmarshalJSON accepts both the full form {"var": {"operator": "eq",
// "value": 1}} and the shorthand {"var": "literal"}, which means equality.
func (cs *ConditionSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(ConditionSet, len(raw))

	for name, msg := range raw {
		var cond Condition
		if err := json.Unmarshal(msg, &cond); err == nil && cond.Operator != "" {
			out[name] = cond

			continue
		}

		var literal any
		if err := json.Unmarshal(msg, &literal); err != nil {
			return fmt.Errorf("condition %q: %w", name, err)
		}

		out[name] = Condition{Operator: OperatorEquals, Value: literal}
	}

	*cs = out

	return nil
}

// Evaluate reports whether every condition holds against the variable bag.
func (cs ConditionSet) Evaluate(vars map[string]any) (bool, error) {
	for name, cond := range cs {
		actual, present := vars[name]

		ok, err := cond.holds(actual, present)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", name, err)
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func (c Condition) holds(actual any, present bool) (bool, error) {
	switch c.Operator {
	case OperatorEquals:
		return looseEqual(actual, c.Value), nil
	case OperatorNotEquals:
		return !looseEqual(actual, c.Value), nil
	case OperatorIn:
		return containsValue(c.Value, actual)
	case OperatorNotIn:
		ok, err := containsValue(c.Value, actual)

		return !ok, err
	case OperatorExists:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}

		return present == want, nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

// looseEqual compares across the numeric representations that JSON decoding
// produces (int vs float64) in addition to deep equality.
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	af, aok := asFloat(a)
	bf, bok := asFloat(b)

	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsValue(set any, needle any) (bool, error) {
	rv := reflect.ValueOf(set)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false, fmt.Errorf("expected a list value, got %T", set)
	}

	for i := range rv.Len() {
		if looseEqual(rv.Index(i).Interface(), needle) {
			return true, nil
		}
	}

	return false, nil
}
