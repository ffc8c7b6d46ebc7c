// pkg/storage/interface.go
package storage

import (
	"context"
	"errors"

	"github.com/releasegate/releasegate/pkg/types"
)

var ErrNotFound = errors.New("record not found")

// Store is the durable state store. Flags, rollouts, trigger states and
// rollback executions are persisted so in-flight work survives a restart;
// executions are archived, never deleted.
type Store interface {
	Close(ctx context.Context) error

	SaveFlag(ctx context.Context, flag *types.FeatureFlag) error
	GetFlag(ctx context.Context, key string) (*types.FeatureFlag, error)
	DeleteFlag(ctx context.Context, key string) error
	ListFlags(ctx context.Context) ([]*types.FeatureFlag, error)

	SaveRollout(ctx context.Context, state *types.RolloutState) error
	GetRollout(ctx context.Context, id string) (*types.RolloutState, error)
	ListRollouts(ctx context.Context, status string) ([]*types.RolloutState, error)

	SaveTriggerState(ctx context.Context, state *types.TriggerState) error
	ListTriggerStates(ctx context.Context, deploymentID string) ([]*types.TriggerState, error)
	DeleteTriggerStates(ctx context.Context, deploymentID string) error

	SaveExecution(ctx context.Context, exec *types.RollbackExecution) error
	GetExecution(ctx context.Context, id string) (*types.RollbackExecution, error)
	ListExecutions(ctx context.Context, deploymentID string) ([]*types.RollbackExecution, error)

	SaveDeployment(ctx context.Context, dep *types.Deployment) error
	GetDeployment(ctx context.Context, id string) (*types.Deployment, error)
	ListDeployments(ctx context.Context) ([]*types.Deployment, error)
}
