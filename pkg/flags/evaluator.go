// pkg/flags/evaluator.go
package flags

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/releasegate/releasegate/pkg/types"
)

// Evaluation reasons, reported alongside the resolved value.
const (
	ReasonTargetingMatch = "targeting_match"
	ReasonRollout        = "rollout"
	ReasonFallthrough    = "fallthrough"
	ReasonDefault        = "default"
)

// Result is the outcome of a single flag evaluation.
type Result struct {
	Value     interface{} `json:"value"`
	Variation string      `json:"variation"`
	Reason    string      `json:"reason"`
}

// Evaluate resolves a flag for the given context. Targeting rules are walked
// in order and the first full match wins; otherwise the fallthrough applies,
// with a weighted rollout bucketed deterministically on (userId, flagKey).
func Evaluate(flag *types.FeatureFlag, evalCtx *types.EvalContext) Result {
	for _, rule := range flag.Rules {
		if ruleMatches(&rule, evalCtx) {
			return Result{
				Value:     variationValue(flag, rule.Variation),
				Variation: rule.Variation,
				Reason:    ReasonTargetingMatch,
			}
		}
	}

	if flag.Fallthrough.Rollout != nil {
		bucket := Bucket(evalCtx.UserID, flag.Key)
		cumulative := 0.0
		for _, wv := range flag.Fallthrough.Rollout.Variations {
			cumulative += wv.Weight
			if bucket < cumulative {
				return Result{
					Value:     variationValue(flag, wv.Variation),
					Variation: wv.Variation,
					Reason:    ReasonRollout,
				}
			}
		}
		// Weights summing under 100 leave a remainder bucket; fall through to
		// the default variation for users landing there.
	}

	if flag.Fallthrough.Variation != "" && hasVariation(flag, flag.Fallthrough.Variation) {
		return Result{
			Value:     variationValue(flag, flag.Fallthrough.Variation),
			Variation: flag.Fallthrough.Variation,
			Reason:    ReasonFallthrough,
		}
	}

	return Result{
		Value:     variationValue(flag, flag.DefaultVariation),
		Variation: flag.DefaultVariation,
		Reason:    ReasonDefault,
	}
}

// Bucket maps (userID, flagKey) into [0, 100) with 3-decimal resolution.
// The hash is a multiply-add rolling hash over the joined key, sign-folded,
// so the same pair always lands in the same bucket across restarts.
func Bucket(userID, flagKey string) float64 {
	key := userID + ":" + flagKey
	var h int32
	for i := 0; i < len(key); i++ {
		h = h*31 + int32(key[i])
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return float64(v%100000) / 1000.0
}

func ruleMatches(rule *types.TargetingRule, evalCtx *types.EvalContext) bool {
	if len(rule.Clauses) == 0 {
		return false
	}
	for _, clause := range rule.Clauses {
		if !clauseMatches(&clause, evalCtx) {
			return false
		}
	}
	return true
}

func clauseMatches(clause *types.Clause, evalCtx *types.EvalContext) bool {
	attr, ok := evalCtx.Attribute(clause.Attribute)
	if !ok {
		// Missing attribute never matches; negation still applies.
		return clause.Negate
	}

	matched := false
	for _, value := range clause.Values {
		if valueMatches(clause.Operator, attr, value) {
			matched = true
			break
		}
	}

	if clause.Negate {
		return !matched
	}
	return matched
}

func valueMatches(operator, attr, value string) bool {
	switch operator {
	case types.OperatorIn:
		return attr == value
	case types.OperatorContains:
		return strings.Contains(attr, value)
	case types.OperatorStartsWith:
		return strings.HasPrefix(attr, value)
	case types.OperatorEndsWith:
		return strings.HasSuffix(attr, value)
	case types.OperatorMatches:
		re, err := regexp.Compile(value)
		if err != nil {
			return false
		}
		return re.MatchString(attr)
	case types.OperatorGreaterThan:
		a, errA := strconv.ParseFloat(attr, 64)
		b, errB := strconv.ParseFloat(value, 64)
		return errA == nil && errB == nil && a > b
	case types.OperatorLessThan:
		a, errA := strconv.ParseFloat(attr, 64)
		b, errB := strconv.ParseFloat(value, 64)
		return errA == nil && errB == nil && a < b
	}
	return false
}

func variationValue(flag *types.FeatureFlag, key string) interface{} {
	for _, variation := range flag.Variations {
		if variation.Key == key {
			return variation.Value
		}
	}
	for _, variation := range flag.Variations {
		if variation.Key == flag.DefaultVariation {
			return variation.Value
		}
	}
	return nil
}

func hasVariation(flag *types.FeatureFlag, key string) bool {
	for _, variation := range flag.Variations {
		if variation.Key == key {
			return true
		}
	}
	return false
}
