package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playbookd/playbookd/pkg/models"
)

func TestConditionSet_Evaluate(t *testing.T) {
	t.Parallel()

	vars := map[string]any{
		"plan":           "pro",
		"message_count":  float64(3),
		"reply_received": true,
	}

	tests := []struct {
		name       string
		conditions models.ConditionSet
		want       bool
	}{
		{
			name:       "empty set passes",
			conditions: models.ConditionSet{},
			want:       true,
		},
		{
			name: "equals",
			conditions: models.ConditionSet{
				"plan": {Operator: models.OperatorEquals, Value: "pro"},
			},
			want: true,
		},
		{
			name: "equals across numeric types",
			conditions: models.ConditionSet{
				"message_count": {Operator: models.OperatorEquals, Value: 3},
			},
			want: true,
		},
		{
			name: "not equals fails on match",
			conditions: models.ConditionSet{
				"plan": {Operator: models.OperatorNotEquals, Value: "pro"},
			},
			want: false,
		},
		{
			name: "in",
			conditions: models.ConditionSet{
				"plan": {Operator: models.OperatorIn, Value: []any{"free", "pro"}},
			},
			want: true,
		},
		{
			name: "not in",
			conditions: models.ConditionSet{
				"plan": {Operator: models.OperatorNotIn, Value: []any{"free", "trial"}},
			},
			want: true,
		},
		{
			name: "exists",
			conditions: models.ConditionSet{
				"reply_received": {Operator: models.OperatorExists},
			},
			want: true,
		},
		{
			name: "exists false",
			conditions: models.ConditionSet{
				"missing": {Operator: models.OperatorExists, Value: false},
			},
			want: true,
		},
		{
			name: "all must hold",
			conditions: models.ConditionSet{
				"plan":          {Operator: models.OperatorEquals, Value: "pro"},
				"message_count": {Operator: models.OperatorEquals, Value: 99},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.conditions.Evaluate(vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionSet_Evaluate_UnknownOperator(t *testing.T) {
	t.Parallel()

	conditions := models.ConditionSet{
		"plan": {Operator: "matches_regex", Value: ".*"},
	}

	_, err := conditions.Evaluate(map[string]any{"plan": "pro"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")
}

func TestConditionSet_UnmarshalJSON_Shorthand(t *testing.T) {
	t.Parallel()

	var conditions models.ConditionSet

	err := json.Unmarshal([]byte(`{"plan": "pro", "count": {"operator": "in", "value": [1, 2]}}`), &conditions)
	require.NoError(t, err)

	assert.Equal(t, models.OperatorEquals, conditions["plan"].Operator)
	assert.Equal(t, "pro", conditions["plan"].Value)
	assert.Equal(t, models.OperatorIn, conditions["count"].Operator)
}
