// pkg/rollback/verify.go
package rollback

import (
	"fmt"

	"github.com/releasegate/releasegate/pkg/triggers"
	"github.com/releasegate/releasegate/pkg/types"
)

type compiledCheck struct {
	def  types.VerificationCheck
	expr *triggers.Expression
}

// verifier runs the configured post-rollback checks against a fresh metrics
// snapshot. All checks must pass for the rollback attempt to count as
// successful.
type verifier struct {
	checks []compiledCheck
}

func newVerifier(defs []types.VerificationCheck) (*verifier, error) {
	checks := make([]compiledCheck, 0, len(defs))
	for _, def := range defs {
		check := compiledCheck{def: def}
		switch def.Type {
		case types.VerificationHealthCheck:
			if def.MinAvailability <= 0 {
				return nil, &ConfigurationError{Field: "verification." + def.Name, Detail: "health_check requires min_availability"}
			}
		case types.VerificationMetricValidation:
			if def.Criteria == nil {
				return nil, &ConfigurationError{Field: "verification." + def.Name, Detail: "metric_validation requires criteria"}
			}
		case types.VerificationCustom:
			expr, err := triggers.CompileExpression(def.Expression)
			if err != nil {
				return nil, &ConfigurationError{Field: "verification." + def.Name, Detail: err.Error()}
			}
			check.expr = expr
		default:
			return nil, &ConfigurationError{Field: "verification." + def.Name, Detail: fmt.Sprintf("unknown type %q", def.Type)}
		}
		checks = append(checks, check)
	}
	return &verifier{checks: checks}, nil
}

func (v *verifier) run(m *types.DeploymentMetrics) error {
	for _, check := range v.checks {
		switch check.def.Type {
		case types.VerificationHealthCheck:
			if m.Availability < check.def.MinAvailability {
				return fmt.Errorf("verification %s failed: availability %.2f below %.2f",
					check.def.Name, m.Availability, check.def.MinAvailability)
			}
		case types.VerificationMetricValidation:
			passed, results := check.def.Criteria.Evaluate(m)
			if !passed {
				for _, r := range results {
					if !r.Passed {
						return fmt.Errorf("verification %s failed: %s %.2f violates threshold %.2f",
							check.def.Name, r.Name, r.Value, r.Threshold)
					}
				}
			}
		case types.VerificationCustom:
			ok, err := check.expr.Evaluate(m)
			if err != nil {
				return fmt.Errorf("verification %s failed: %w", check.def.Name, err)
			}
			if !ok {
				return fmt.Errorf("verification %s failed: expression %s is false",
					check.def.Name, check.expr)
			}
		}
	}
	return nil
}
