// pkg/types/rollback.go
package types

import "time"

// Rollback strategies.
const (
	StrategyImmediate = "immediate"
	StrategyGradual   = "gradual"
	StrategyBlueGreen = "blue_green"
)

// Execution and step statuses.
const (
	ExecutionStatusInProgress = "in_progress"
	ExecutionStatusCompleted  = "completed"
	ExecutionStatusFailed     = "failed"
)

// Verification check types run after a rollback's steps complete.
const (
	VerificationHealthCheck      = "health_check"
	VerificationMetricValidation = "metric_validation"
	VerificationCustom           = "custom"
)

// RollbackStep is a configured step of the immediate strategy. Retries nil
// means the global step_retries default applies; an explicit 0 disables
// retries for the step.
type RollbackStep struct {
	Name    string        `json:"name" mapstructure:"name" validate:"required"`
	Action  string        `json:"action" mapstructure:"action" validate:"required"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Retries *int          `json:"retries,omitempty" mapstructure:"retries" validate:"omitempty,min=0"`
}

// VerificationCheck is a configured post-rollback check. Exactly one of the
// type-specific fields applies, matching Type.
type VerificationCheck struct {
	Name            string           `json:"name" mapstructure:"name" validate:"required"`
	Type            string           `json:"type" mapstructure:"type" validate:"required,oneof=health_check metric_validation custom"`
	MinAvailability float64          `json:"minAvailability,omitempty" mapstructure:"min_availability"`
	Criteria        *SuccessCriteria `json:"criteria,omitempty" mapstructure:"criteria"`
	Expression      string           `json:"expression,omitempty" mapstructure:"expression"`
}

// StepExecution records one step's outcome within a rollback execution.
// Attempts never exceeds MaxAttempts (retries + 1).
type StepExecution struct {
	Index       int        `json:"index" bson:"index"`
	Name        string     `json:"name" bson:"name"`
	Action      string     `json:"action" bson:"action"`
	Status      string     `json:"status" bson:"status"`
	Attempts    int        `json:"attempts" bson:"attempts"`
	MaxAttempts int        `json:"maxAttempts" bson:"max_attempts"`
	StartTime   time.Time  `json:"startTime" bson:"start_time"`
	EndTime     *time.Time `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Error       string     `json:"error,omitempty" bson:"error,omitempty"`
}

// RollbackExecution is the archived record of a rollback. Executions are
// retained after completion for audit; they are never deleted.
type RollbackExecution struct {
	ID           string          `json:"id" bson:"_id"`
	DeploymentID string          `json:"deploymentId" bson:"deployment_id"`
	Reason       string          `json:"reason" bson:"reason"`
	Strategy     string          `json:"strategy" bson:"strategy"`
	Status       string          `json:"status" bson:"status"`
	Steps        []StepExecution `json:"steps" bson:"steps"`
	Attempts     int             `json:"attempts" bson:"attempts"`
	MaxAttempts  int             `json:"maxAttempts" bson:"max_attempts"`
	StartTime    time.Time       `json:"startTime" bson:"start_time"`
	EndTime      *time.Time      `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Error        string          `json:"error,omitempty" bson:"error,omitempty"`
}
