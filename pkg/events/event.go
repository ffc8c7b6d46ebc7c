// pkg/events/event.go
package events

import "time"

// Lifecycle event types emitted by the controller.
const (
	TypeFlagCreated                = "flag_created"
	TypeFlagUpdated                = "flag_updated"
	TypeFlagDeleted                = "flag_deleted"
	TypeRolloutStageCompleted      = "rollout_stage_completed"
	TypeRolloutPaused              = "rollout_paused"
	TypeRolloutResumed             = "rollout_resumed"
	TypeRolloutCompleted           = "rollout_completed"
	TypeRolloutReverted            = "rollout_reverted"
	TypeTriggerActivated           = "trigger_activated"
	TypeManualInterventionRequired = "manual_intervention_required"
	TypeRollbackCompleted          = "rollback_completed"
	TypeRollbackFailed             = "rollback_failed"
	TypeRollbackExhausted          = "rollback_exhausted"
)

// Event is a lifecycle notification. Either DeploymentID or FlagKey (or both)
// identifies the subject.
type Event struct {
	Type         string                 `json:"type"`
	Timestamp    time.Time              `json:"timestamp"`
	DeploymentID string                 `json:"deploymentId,omitempty"`
	FlagKey      string                 `json:"flagKey,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Key returns the partition/routing key for the event.
func (e Event) Key() string {
	if e.DeploymentID != "" {
		return e.DeploymentID
	}
	return e.FlagKey
}
