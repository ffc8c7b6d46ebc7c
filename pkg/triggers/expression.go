// pkg/triggers/expression.go
package triggers

import (
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"

	"github.com/releasegate/releasegate/pkg/types"
)

// wellKnown are the metric names addressable as bare identifiers in custom
// expressions. Anything else resolves through the custom map.
var wellKnown = map[string]bool{
	"error_rate":        true,
	"response_time":     true,
	"throughput":        true,
	"availability":      true,
	"conversion_rate":   true,
	"user_satisfaction": true,
}

var placeholderPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Expression is a compiled boolean condition over a metrics snapshot.
type Expression struct {
	source  string
	program cel.Program
}

// CompileExpression compiles a condition such as
// "${error_rate} > 5.0 && ${availability} < 99.0". Placeholders naming a
// well-known metric become typed variables; other placeholders resolve
// through the snapshot's custom series.
func CompileExpression(source string) (*Expression, error) {
	if source == "" {
		return nil, fmt.Errorf("expression is empty")
	}

	rewritten := placeholderPattern.ReplaceAllStringFunc(source, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if wellKnown[name] {
			return name
		}
		return fmt.Sprintf("custom[%q]", name)
	})

	env, err := cel.NewEnv(
		cel.Variable("error_rate", cel.DoubleType),
		cel.Variable("response_time", cel.DoubleType),
		cel.Variable("throughput", cel.DoubleType),
		cel.Variable("availability", cel.DoubleType),
		cel.Variable("conversion_rate", cel.DoubleType),
		cel.Variable("user_satisfaction", cel.DoubleType),
		cel.Variable("custom", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}

	ast, issues := env.Compile(rewritten)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", source, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build expression program: %w", err)
	}

	return &Expression{source: source, program: program}, nil
}

// Evaluate runs the expression against a snapshot.
func (e *Expression) Evaluate(m *types.DeploymentMetrics) (bool, error) {
	custom := m.Custom
	if custom == nil {
		custom = map[string]float64{}
	}
	out, _, err := e.program.Eval(map[string]interface{}{
		"error_rate":        m.ErrorRate,
		"response_time":     m.ResponseTime,
		"throughput":        m.Throughput,
		"availability":      m.Availability,
		"conversion_rate":   m.Business.ConversionRate,
		"user_satisfaction": m.Business.UserSatisfaction,
		"custom":            custom,
	})
	if err != nil {
		return false, fmt.Errorf("expression %q evaluation failed: %w", e.source, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q is not boolean", e.source)
	}
	return result, nil
}

// String returns the original expression source.
func (e *Expression) String() string {
	return e.source
}
