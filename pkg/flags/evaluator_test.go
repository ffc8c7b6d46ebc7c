// pkg/flags/evaluator_test.go
package flags

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releasegate/releasegate/pkg/types"
)

func TestBucketDeterministicAndBounded(t *testing.T) {
	for i := 0; i < 500; i++ {
		userID := fmt.Sprintf("user-%d", i)
		first := Bucket(userID, "checkout-v2")
		second := Bucket(userID, "checkout-v2")
		assert.Equal(t, first, second)
		assert.GreaterOrEqual(t, first, 0.0)
		assert.Less(t, first, 100.0)
	}
}

func TestBucketVariesAcrossFlags(t *testing.T) {
	differs := false
	for i := 0; i < 50; i++ {
		userID := fmt.Sprintf("user-%d", i)
		if Bucket(userID, "flag-a") != Bucket(userID, "flag-b") {
			differs = true
			break
		}
	}
	assert.True(t, differs, "buckets should depend on the flag key")
}

func TestEvaluateTargetingRuleWinsOverRollout(t *testing.T) {
	flag := NewRolloutFlag("checkout-v2", "Checkout v2", "prod", 0)
	flag.Rules = []types.TargetingRule{
		{
			Clauses: []types.Clause{
				{Attribute: "userType", Operator: types.OperatorIn, Values: []string{"beta"}},
			},
			Variation: VariationEnabled,
		},
	}

	result := Evaluate(flag, &types.EvalContext{UserID: "u1", UserType: "beta"})
	assert.Equal(t, ReasonTargetingMatch, result.Reason)
	assert.Equal(t, VariationEnabled, result.Variation)
	assert.Equal(t, true, result.Value)

	// Same user without the attribute falls into the 0% rollout.
	result = Evaluate(flag, &types.EvalContext{UserID: "u1"})
	assert.Equal(t, ReasonRollout, result.Reason)
	assert.Equal(t, VariationControl, result.Variation)
}

func TestEvaluateRuleRequiresAllClauses(t *testing.T) {
	flag := NewRolloutFlag("checkout-v2", "Checkout v2", "prod", 0)
	flag.Rules = []types.TargetingRule{
		{
			Clauses: []types.Clause{
				{Attribute: "country", Operator: types.OperatorIn, Values: []string{"DE"}},
				{Attribute: "platform", Operator: types.OperatorIn, Values: []string{"ios"}},
			},
			Variation: VariationEnabled,
		},
	}

	result := Evaluate(flag, &types.EvalContext{UserID: "u1", Country: "DE", Platform: "android"})
	assert.NotEqual(t, ReasonTargetingMatch, result.Reason)

	result = Evaluate(flag, &types.EvalContext{UserID: "u1", Country: "DE", Platform: "ios"})
	assert.Equal(t, ReasonTargetingMatch, result.Reason)
}

func TestEvaluateFirstMatchingRuleWins(t *testing.T) {
	flag := NewRolloutFlag("checkout-v2", "Checkout v2", "prod", 0)
	flag.Variations = append(flag.Variations, types.Variation{Key: "special", Value: "special"})
	flag.Rules = []types.TargetingRule{
		{
			Clauses:   []types.Clause{{Attribute: "segment", Operator: types.OperatorIn, Values: []string{"vip"}}},
			Variation: "special",
		},
		{
			Clauses:   []types.Clause{{Attribute: "segment", Operator: types.OperatorContains, Values: []string{"vi"}}},
			Variation: VariationEnabled,
		},
	}

	result := Evaluate(flag, &types.EvalContext{UserID: "u1", Segment: "vip"})
	assert.Equal(t, "special", result.Variation)
}

func TestEvaluateOperators(t *testing.T) {
	tests := []struct {
		name    string
		clause  types.Clause
		evalCtx types.EvalContext
		matched bool
	}{
		{
			name:    "in matches exact value",
			clause:  types.Clause{Attribute: "country", Operator: types.OperatorIn, Values: []string{"US", "CA"}},
			evalCtx: types.EvalContext{UserID: "u", Country: "CA"},
			matched: true,
		},
		{
			name:    "contains",
			clause:  types.Clause{Attribute: "platform", Operator: types.OperatorContains, Values: []string{"roid"}},
			evalCtx: types.EvalContext{UserID: "u", Platform: "android"},
			matched: true,
		},
		{
			name:    "startsWith misses",
			clause:  types.Clause{Attribute: "platform", Operator: types.OperatorStartsWith, Values: []string{"ios"}},
			evalCtx: types.EvalContext{UserID: "u", Platform: "android"},
			matched: false,
		},
		{
			name:    "endsWith",
			clause:  types.Clause{Attribute: "version", Operator: types.OperatorEndsWith, Values: []string{"-beta"}},
			evalCtx: types.EvalContext{UserID: "u", Version: "2.1.0-beta"},
			matched: true,
		},
		{
			name:    "matches regex",
			clause:  types.Clause{Attribute: "version", Operator: types.OperatorMatches, Values: []string{`^2\.\d+\.`}},
			evalCtx: types.EvalContext{UserID: "u", Version: "2.14.3"},
			matched: true,
		},
		{
			name:    "matches with invalid regex never matches",
			clause:  types.Clause{Attribute: "version", Operator: types.OperatorMatches, Values: []string{"("}},
			evalCtx: types.EvalContext{UserID: "u", Version: "2.14.3"},
			matched: false,
		},
		{
			name:    "greaterThan numeric",
			clause:  types.Clause{Attribute: "age", Operator: types.OperatorGreaterThan, Values: []string{"18"}},
			evalCtx: types.EvalContext{UserID: "u", Custom: map[string]string{"age": "21"}},
			matched: true,
		},
		{
			name:    "greaterThan non-numeric attribute",
			clause:  types.Clause{Attribute: "age", Operator: types.OperatorGreaterThan, Values: []string{"18"}},
			evalCtx: types.EvalContext{UserID: "u", Custom: map[string]string{"age": "old"}},
			matched: false,
		},
		{
			name:    "lessThan numeric",
			clause:  types.Clause{Attribute: "age", Operator: types.OperatorLessThan, Values: []string{"18"}},
			evalCtx: types.EvalContext{UserID: "u", Custom: map[string]string{"age": "12"}},
			matched: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := NewRolloutFlag("op-test", "Operator test", "prod", 0)
			flag.Rules = []types.TargetingRule{{Clauses: []types.Clause{tt.clause}, Variation: VariationEnabled}}

			result := Evaluate(flag, &tt.evalCtx)
			if tt.matched {
				assert.Equal(t, ReasonTargetingMatch, result.Reason)
			} else {
				assert.NotEqual(t, ReasonTargetingMatch, result.Reason)
			}
		})
	}
}

func TestEvaluateNegatedClause(t *testing.T) {
	flag := NewRolloutFlag("neg-test", "Negate test", "prod", 0)
	flag.Rules = []types.TargetingRule{
		{
			Clauses:   []types.Clause{{Attribute: "country", Operator: types.OperatorIn, Values: []string{"US"}, Negate: true}},
			Variation: VariationEnabled,
		},
	}

	result := Evaluate(flag, &types.EvalContext{UserID: "u", Country: "DE"})
	assert.Equal(t, ReasonTargetingMatch, result.Reason)

	result = Evaluate(flag, &types.EvalContext{UserID: "u", Country: "US"})
	assert.NotEqual(t, ReasonTargetingMatch, result.Reason)

	// Missing attribute with Negate set matches.
	result = Evaluate(flag, &types.EvalContext{UserID: "u"})
	assert.Equal(t, ReasonTargetingMatch, result.Reason)
}

func TestEvaluateWeightedRolloutBoundaries(t *testing.T) {
	flag := NewRolloutFlag("rollout-test", "Rollout test", "prod", 100)
	for i := 0; i < 200; i++ {
		result := Evaluate(flag, &types.EvalContext{UserID: fmt.Sprintf("user-%d", i)})
		require.Equal(t, VariationEnabled, result.Variation, "100%% rollout must enable every user")
		require.Equal(t, ReasonRollout, result.Reason)
	}

	flag = NewRolloutFlag("rollout-test", "Rollout test", "prod", 0)
	for i := 0; i < 200; i++ {
		result := Evaluate(flag, &types.EvalContext{UserID: fmt.Sprintf("user-%d", i)})
		require.Equal(t, VariationControl, result.Variation, "0%% rollout must hold every user back")
	}
}

func TestEvaluateWeightedRolloutStableForUser(t *testing.T) {
	flag := NewRolloutFlag("rollout-test", "Rollout test", "prod", 50)
	for i := 0; i < 50; i++ {
		userID := fmt.Sprintf("user-%d", i)
		first := Evaluate(flag, &types.EvalContext{UserID: userID})
		for j := 0; j < 5; j++ {
			again := Evaluate(flag, &types.EvalContext{UserID: userID})
			require.Equal(t, first.Variation, again.Variation)
		}
	}
}

func TestEvaluateUnderweightRolloutFallsToDefault(t *testing.T) {
	flag := &types.FeatureFlag{
		Key: "partial",
		Variations: []types.Variation{
			{Key: "on", Value: true},
			{Key: "off", Value: false},
		},
		Fallthrough: types.Fallthrough{
			Rollout: &types.WeightedRollout{
				Variations: []types.WeightedVariation{{Variation: "on", Weight: 0}},
			},
		},
		DefaultVariation: "off",
	}

	result := Evaluate(flag, &types.EvalContext{UserID: "anyone"})
	assert.Equal(t, "off", result.Variation)
	assert.Equal(t, ReasonDefault, result.Reason)
}

func TestEvaluateFixedFallthrough(t *testing.T) {
	flag := &types.FeatureFlag{
		Key: "fixed",
		Variations: []types.Variation{
			{Key: "on", Value: true},
			{Key: "off", Value: false},
		},
		Fallthrough:      types.Fallthrough{Variation: "on"},
		DefaultVariation: "off",
	}

	result := Evaluate(flag, &types.EvalContext{UserID: "u"})
	assert.Equal(t, "on", result.Variation)
	assert.Equal(t, ReasonFallthrough, result.Reason)
}
