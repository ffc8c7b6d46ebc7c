// pkg/types/rollout.go
package types

import "time"

// Rollout lifecycle states. Completed and reverted are terminal; paused can
// only return to active through an explicit resume.
const (
	RolloutStatusActive    = "active"
	RolloutStatusPaused    = "paused"
	RolloutStatusCompleted = "completed"
	RolloutStatusReverted  = "reverted"
	RolloutStatusFailed    = "failed"
)

// Pause reasons recorded on a RolloutState.
const (
	PauseReasonCriteriaNotMet      = "stage_criteria_not_met"
	PauseReasonMaxDurationExceeded = "max_duration_exceeded"
	PauseReasonOperator            = "operator_paused"
)

// RolloutStage is one rung of the exposure ladder. The stage's criteria must
// all pass before traffic advances to TargetPercentage.
type RolloutStage struct {
	TargetPercentage float64         `json:"targetPercentage" bson:"target_percentage"`
	Duration         time.Duration   `json:"duration" bson:"duration"`
	Criteria         SuccessCriteria `json:"criteria" bson:"criteria"`
}

// RolloutState tracks one progressive rollout of a flag. There is at most one
// active rollout per flag; the state is mutated only by the rollout engine's
// timer callback and explicit pause/resume/revert calls.
type RolloutState struct {
	ID                string             `json:"id" bson:"_id"`
	FlagKey           string             `json:"flagKey" bson:"flag_key"`
	DeploymentID      string             `json:"deploymentId" bson:"deployment_id"`
	CurrentPercentage float64            `json:"currentPercentage" bson:"current_percentage"`
	Stages            []RolloutStage     `json:"stages" bson:"stages"`
	CurrentStageIndex int                `json:"currentStageIndex" bson:"current_stage_index"`
	Status            string             `json:"status" bson:"status"`
	PauseReason       string             `json:"pauseReason,omitempty" bson:"pause_reason,omitempty"`
	StageInterval     time.Duration      `json:"stageInterval" bson:"stage_interval"`
	MaxDuration       time.Duration      `json:"maxDuration" bson:"max_duration"`
	LastMetrics       *DeploymentMetrics `json:"lastMetrics,omitempty" bson:"last_metrics,omitempty"`
	StartTime         time.Time          `json:"startTime" bson:"start_time"`
	UpdatedAt         time.Time          `json:"updatedAt" bson:"updated_at"`
}

// CurrentStage returns the stage under evaluation, or nil when the ladder is
// exhausted.
func (r *RolloutState) CurrentStage() *RolloutStage {
	if r.CurrentStageIndex < 0 || r.CurrentStageIndex >= len(r.Stages) {
		return nil
	}
	return &r.Stages[r.CurrentStageIndex]
}
