// pkg/triggers/condition.go
package triggers

import (
	"fmt"
	"strings"

	"github.com/releasegate/releasegate/pkg/types"
)

// conditionFunc evaluates one trigger against a snapshot. It returns whether
// the condition is violated and the observed metric value.
type conditionFunc func(m *types.DeploymentMetrics) (bool, float64, error)

// lowIsViolation marks the metrics where dropping below the threshold is the
// failure direction. Every other metric violates above its threshold.
var lowIsViolation = map[string]bool{
	"availability": true,
	"throughput":   true,
}

// compileCondition builds the evaluator for a trigger definition. Unknown
// trigger types and unresolvable conditions fail here rather than at poll
// time.
func compileCondition(trigger types.RollbackTrigger) (conditionFunc, error) {
	switch trigger.Type {
	case types.TriggerTypeErrorRate:
		threshold := trigger.Threshold
		return func(m *types.DeploymentMetrics) (bool, float64, error) {
			return m.ErrorRate > threshold, m.ErrorRate, nil
		}, nil

	case types.TriggerTypeResponseTime:
		threshold := trigger.Threshold
		return func(m *types.DeploymentMetrics) (bool, float64, error) {
			return m.ResponseTime > threshold, m.ResponseTime, nil
		}, nil

	case types.TriggerTypeMetricThreshold:
		metric := strings.TrimSpace(trigger.Condition)
		if metric == "" {
			return nil, fmt.Errorf("trigger %s: metric_threshold requires a condition naming the metric", trigger.Name)
		}
		threshold := trigger.Threshold
		below := lowIsViolation[metric]
		return func(m *types.DeploymentMetrics) (bool, float64, error) {
			value, ok := m.Lookup(metric)
			if !ok {
				return false, 0, fmt.Errorf("metric %s not present in snapshot", metric)
			}
			if below {
				return value < threshold, value, nil
			}
			return value > threshold, value, nil
		}, nil

	case types.TriggerTypeCustom:
		expr, err := CompileExpression(trigger.Condition)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", trigger.Name, err)
		}
		return func(m *types.DeploymentMetrics) (bool, float64, error) {
			violated, err := expr.Evaluate(m)
			if err != nil {
				return false, 0, err
			}
			// A boolean expression has no single observed metric.
			return violated, 0, nil
		}, nil

	default:
		return nil, fmt.Errorf("trigger %s: unknown type %q", trigger.Name, trigger.Type)
	}
}
