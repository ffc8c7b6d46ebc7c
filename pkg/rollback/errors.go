// pkg/rollback/errors.go
package rollback

import (
	"errors"
	"fmt"
	"time"
)

// ErrRollbackInFlight is returned when a rollback is requested for a
// deployment that already has one executing.
var ErrRollbackInFlight = errors.New("rollback already in progress")

// CooldownError is returned when a rollback is requested before the
// deployment's cooldown window from its last execution has elapsed.
type CooldownError struct {
	DeploymentID string
	Remaining    time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("rollback for %s is in cooldown, %s remaining", e.DeploymentID, e.Remaining.Round(time.Second))
}

// ConfigurationError reports an invalid rollback configuration detected at
// execution time, such as an unknown strategy.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid rollback configuration: %s: %s", e.Field, e.Detail)
}

// ExhaustionError is returned when every allowed rollback attempt failed.
type ExhaustionError struct {
	DeploymentID string
	Attempts     int
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("rollback for %s exhausted after %d attempts", e.DeploymentID, e.Attempts)
}
