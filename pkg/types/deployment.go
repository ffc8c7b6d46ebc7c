// pkg/types/deployment.go
package types

import "time"

// Deployment statuses tracked by the controller's registry.
const (
	DeploymentStatusActive     = "active"
	DeploymentStatusRolledBack = "rolled-back"
	DeploymentStatusRetired    = "retired"
)

// DeploymentEvent is one entry of a deployment's timeline.
type DeploymentEvent struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Phase     string    `json:"phase" bson:"phase"`
	Message   string    `json:"message" bson:"message"`
	Level     string    `json:"level" bson:"level"`
}

// Deployment ties flags, rollouts and triggers for one release together.
type Deployment struct {
	ID              string            `json:"id" bson:"_id"`
	App             string            `json:"app" bson:"app"`
	Environment     string            `json:"environment" bson:"environment"`
	Version         string            `json:"version" bson:"version"`
	PreviousVersion string            `json:"previousVersion,omitempty" bson:"previous_version,omitempty"`
	FlagKeys        []string          `json:"flagKeys,omitempty" bson:"flag_keys,omitempty"`
	Status          string            `json:"status" bson:"status"`
	Events          []DeploymentEvent `json:"events" bson:"events"`
	CreatedAt       time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time         `json:"updatedAt" bson:"updated_at"`
}

// AddEvent appends a timeline entry and bumps UpdatedAt.
func (d *Deployment) AddEvent(level, phase, message string) {
	now := time.Now()
	d.Events = append(d.Events, DeploymentEvent{
		Timestamp: now,
		Phase:     phase,
		Message:   message,
		Level:     level,
	})
	d.UpdatedAt = now
}
