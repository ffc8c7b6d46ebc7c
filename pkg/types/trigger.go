// pkg/types/trigger.go
package types

import "time"

// Trigger types. error_rate and response_time compare a single metric against
// the threshold; metric_threshold pattern-matches the condition string for a
// known metric; custom evaluates a restricted boolean expression.
const (
	TriggerTypeMetricThreshold = "metric_threshold"
	TriggerTypeErrorRate       = "error_rate"
	TriggerTypeResponseTime    = "response_time"
	TriggerTypeCustom          = "custom"
)

// RollbackTrigger is the configured definition of a rollback condition.
type RollbackTrigger struct {
	Name      string        `json:"name" bson:"name" mapstructure:"name" validate:"required"`
	Type      string        `json:"type" bson:"type" mapstructure:"type" validate:"required,oneof=metric_threshold error_rate response_time custom"`
	Condition string        `json:"condition,omitempty" bson:"condition,omitempty" mapstructure:"condition"`
	Threshold float64       `json:"threshold" bson:"threshold" mapstructure:"threshold"`
	Duration  time.Duration `json:"duration" bson:"duration" mapstructure:"duration" validate:"required"`
	Enabled   bool          `json:"enabled" bson:"enabled" mapstructure:"enabled"`
}

// TriggerState is the runtime side of a trigger bound to one deployment.
// A state trips at most once per attachment; it cannot re-trip until reset.
type TriggerState struct {
	TriggerName    string     `json:"triggerName" bson:"trigger_name"`
	DeploymentID   string     `json:"deploymentId" bson:"deployment_id"`
	FirstViolation *time.Time `json:"firstViolation,omitempty" bson:"first_violation,omitempty"`
	ViolationCount int        `json:"violationCount" bson:"violation_count"`
	Triggered      bool       `json:"triggered" bson:"triggered"`
	LastValue      float64    `json:"lastValue" bson:"last_value"`
	LastChecked    time.Time  `json:"lastChecked" bson:"last_checked"`
}
