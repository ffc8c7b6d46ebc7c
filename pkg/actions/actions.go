// pkg/actions/actions.go
package actions

import (
	"context"
	"fmt"
	"time"
)

// TrafficActuator shifts routing weight toward a deployment.
type TrafficActuator interface {
	ShiftTraffic(ctx context.Context, deploymentID string, percentage float64) error
}

// ActionExecutor runs a named rollback action. Implementations must return a
// *TimeoutError when the action exceeds its timeout so callers can tell a
// hung collaborator from a failing one.
type ActionExecutor interface {
	RunAction(ctx context.Context, action string, timeout time.Duration) error
}

// TimeoutError reports that an action ran past its deadline.
type TimeoutError struct {
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("action %s timed out after %s", e.Action, e.Timeout)
}
