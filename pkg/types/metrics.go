// pkg/types/metrics.go
package types

import (
	"time"
)

// DeploymentMetrics is a point-in-time snapshot of a deployment's health as
// reported by the metrics provider. Snapshots are transient: they are fetched
// fresh for every evaluation cycle and never persisted.
type DeploymentMetrics struct {
	DeploymentID string    `json:"deploymentId"`
	ErrorRate    float64   `json:"errorRate"`    // percent of failed requests
	ResponseTime float64   `json:"responseTime"` // milliseconds, p95
	Throughput   float64   `json:"throughput"`   // requests per second
	Availability float64   `json:"availability"` // percent
	CollectedAt  time.Time `json:"collectedAt"`

	Performance PerformanceMetrics `json:"performance"`
	Business    BusinessMetrics    `json:"business"`

	// Custom carries provider-specific series keyed by metric name.
	Custom map[string]float64 `json:"custom,omitempty"`
}

// PerformanceMetrics groups latency and saturation series.
type PerformanceMetrics struct {
	P50Latency        float64 `json:"p50Latency"`
	P95Latency        float64 `json:"p95Latency"`
	P99Latency        float64 `json:"p99Latency"`
	CPUUtilization    float64 `json:"cpuUtilization"`
	MemoryUtilization float64 `json:"memoryUtilization"`
}

// BusinessMetrics groups the product-level series used by stage criteria.
type BusinessMetrics struct {
	ConversionRate   float64 `json:"conversionRate"`
	UserSatisfaction float64 `json:"userSatisfaction"`
	RevenuePerUser   float64 `json:"revenuePerUser"`
	SessionDuration  float64 `json:"sessionDuration"` // seconds
}

// Lookup resolves a metric by its wire name. Custom series shadow nothing:
// the well-known names always resolve to the typed fields.
func (m *DeploymentMetrics) Lookup(name string) (float64, bool) {
	switch name {
	case "error_rate":
		return m.ErrorRate, true
	case "response_time":
		return m.ResponseTime, true
	case "throughput":
		return m.Throughput, true
	case "availability":
		return m.Availability, true
	case "conversion_rate":
		return m.Business.ConversionRate, true
	case "user_satisfaction":
		return m.Business.UserSatisfaction, true
	}
	if m.Custom != nil {
		if v, ok := m.Custom[name]; ok {
			return v, true
		}
	}
	return 0, false
}

// SuccessCriteria gates a rollout stage. All four thresholds must hold for the
// stage to advance.
type SuccessCriteria struct {
	MaxErrorRate        float64 `json:"maxErrorRate" mapstructure:"max_error_rate" validate:"min=0"`
	MaxResponseTime     float64 `json:"maxResponseTime" mapstructure:"max_response_time" validate:"min=0"`
	MinConversionRate   float64 `json:"minConversionRate" mapstructure:"min_conversion_rate" validate:"min=0"`
	MinUserSatisfaction float64 `json:"minUserSatisfaction" mapstructure:"min_user_satisfaction" validate:"min=0"`
}

// Evaluate checks the criteria against a snapshot and returns one CheckResult
// per threshold, mirroring how the health monitor reports individual checks.
func (c SuccessCriteria) Evaluate(m *DeploymentMetrics) (bool, []CheckResult) {
	results := []CheckResult{
		{Name: "error_rate", Value: m.ErrorRate, Threshold: c.MaxErrorRate, Operator: "lte", Passed: m.ErrorRate <= c.MaxErrorRate},
		{Name: "response_time", Value: m.ResponseTime, Threshold: c.MaxResponseTime, Operator: "lte", Passed: m.ResponseTime <= c.MaxResponseTime},
		{Name: "conversion_rate", Value: m.Business.ConversionRate, Threshold: c.MinConversionRate, Operator: "gte", Passed: m.Business.ConversionRate >= c.MinConversionRate},
		{Name: "user_satisfaction", Value: m.Business.UserSatisfaction, Threshold: c.MinUserSatisfaction, Operator: "gte", Passed: m.Business.UserSatisfaction >= c.MinUserSatisfaction},
	}
	passed := true
	for _, r := range results {
		if !r.Passed {
			passed = false
		}
	}
	return passed, results
}

// CheckResult records the outcome of a single threshold comparison.
type CheckResult struct {
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Operator  string  `json:"operator"`
	Message   string  `json:"message,omitempty"`
}
