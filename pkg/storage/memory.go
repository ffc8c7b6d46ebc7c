// pkg/storage/memory.go
package storage

import (
	"context"
	"sync"

	"github.com/releasegate/releasegate/pkg/types"
)

// MemoryStore keeps all state in process memory. Records are copied on the
// way in and out to avoid races with callers that keep mutating their copy.
type MemoryStore struct {
	mutex       sync.RWMutex
	flags       map[string]*types.FeatureFlag
	rollouts    map[string]*types.RolloutState
	triggers    map[string]*types.TriggerState
	executions  map[string]*types.RollbackExecution
	deployments map[string]*types.Deployment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:       make(map[string]*types.FeatureFlag),
		rollouts:    make(map[string]*types.RolloutState),
		triggers:    make(map[string]*types.TriggerState),
		executions:  make(map[string]*types.RollbackExecution),
		deployments: make(map[string]*types.Deployment),
	}
}

func (ms *MemoryStore) Close(_ context.Context) error {
	return nil
}

func (ms *MemoryStore) SaveFlag(_ context.Context, flag *types.FeatureFlag) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.flags[flag.Key] = copyFlag(flag)
	return nil
}

func (ms *MemoryStore) GetFlag(_ context.Context, key string) (*types.FeatureFlag, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	flag, exists := ms.flags[key]
	if !exists {
		return nil, ErrNotFound
	}
	return copyFlag(flag), nil
}

func (ms *MemoryStore) DeleteFlag(_ context.Context, key string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	if _, exists := ms.flags[key]; !exists {
		return ErrNotFound
	}
	delete(ms.flags, key)
	return nil
}

func (ms *MemoryStore) ListFlags(_ context.Context) ([]*types.FeatureFlag, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	var result []*types.FeatureFlag
	for _, flag := range ms.flags {
		result = append(result, copyFlag(flag))
	}
	return result, nil
}

func (ms *MemoryStore) SaveRollout(_ context.Context, state *types.RolloutState) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.rollouts[state.ID] = copyRollout(state)
	return nil
}

func (ms *MemoryStore) GetRollout(_ context.Context, id string) (*types.RolloutState, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	state, exists := ms.rollouts[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyRollout(state), nil
}

func (ms *MemoryStore) ListRollouts(_ context.Context, status string) ([]*types.RolloutState, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	var result []*types.RolloutState
	for _, state := range ms.rollouts {
		if status == "" || state.Status == status {
			result = append(result, copyRollout(state))
		}
	}
	return result, nil
}

func (ms *MemoryStore) SaveTriggerState(_ context.Context, state *types.TriggerState) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.triggers[triggerKey(state.DeploymentID, state.TriggerName)] = copyTriggerState(state)
	return nil
}

func (ms *MemoryStore) ListTriggerStates(_ context.Context, deploymentID string) ([]*types.TriggerState, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	var result []*types.TriggerState
	for _, state := range ms.triggers {
		if state.DeploymentID == deploymentID {
			result = append(result, copyTriggerState(state))
		}
	}
	return result, nil
}

func (ms *MemoryStore) DeleteTriggerStates(_ context.Context, deploymentID string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	for key, state := range ms.triggers {
		if state.DeploymentID == deploymentID {
			delete(ms.triggers, key)
		}
	}
	return nil
}

func (ms *MemoryStore) SaveExecution(_ context.Context, exec *types.RollbackExecution) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.executions[exec.ID] = copyExecution(exec)
	return nil
}

func (ms *MemoryStore) GetExecution(_ context.Context, id string) (*types.RollbackExecution, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	exec, exists := ms.executions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyExecution(exec), nil
}

func (ms *MemoryStore) ListExecutions(_ context.Context, deploymentID string) ([]*types.RollbackExecution, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	var result []*types.RollbackExecution
	for _, exec := range ms.executions {
		if deploymentID == "" || exec.DeploymentID == deploymentID {
			result = append(result, copyExecution(exec))
		}
	}
	return result, nil
}

func (ms *MemoryStore) SaveDeployment(_ context.Context, dep *types.Deployment) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.deployments[dep.ID] = copyDeployment(dep)
	return nil
}

func (ms *MemoryStore) GetDeployment(_ context.Context, id string) (*types.Deployment, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	dep, exists := ms.deployments[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyDeployment(dep), nil
}

func (ms *MemoryStore) ListDeployments(_ context.Context) ([]*types.Deployment, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	var result []*types.Deployment
	for _, dep := range ms.deployments {
		result = append(result, copyDeployment(dep))
	}
	return result, nil
}

func triggerKey(deploymentID, triggerName string) string {
	return deploymentID + "/" + triggerName
}

func copyFlag(flag *types.FeatureFlag) *types.FeatureFlag {
	flagCopy := *flag
	flagCopy.Variations = make([]types.Variation, len(flag.Variations))
	copy(flagCopy.Variations, flag.Variations)
	flagCopy.Rules = make([]types.TargetingRule, len(flag.Rules))
	copy(flagCopy.Rules, flag.Rules)
	if flag.Fallthrough.Rollout != nil {
		rollout := types.WeightedRollout{
			Variations: make([]types.WeightedVariation, len(flag.Fallthrough.Rollout.Variations)),
		}
		copy(rollout.Variations, flag.Fallthrough.Rollout.Variations)
		flagCopy.Fallthrough.Rollout = &rollout
	}
	return &flagCopy
}

func copyRollout(state *types.RolloutState) *types.RolloutState {
	stateCopy := *state
	stateCopy.Stages = make([]types.RolloutStage, len(state.Stages))
	copy(stateCopy.Stages, state.Stages)
	if state.LastMetrics != nil {
		metricsCopy := *state.LastMetrics
		stateCopy.LastMetrics = &metricsCopy
	}
	return &stateCopy
}

func copyTriggerState(state *types.TriggerState) *types.TriggerState {
	stateCopy := *state
	if state.FirstViolation != nil {
		ts := *state.FirstViolation
		stateCopy.FirstViolation = &ts
	}
	return &stateCopy
}

func copyExecution(exec *types.RollbackExecution) *types.RollbackExecution {
	execCopy := *exec
	execCopy.Steps = make([]types.StepExecution, len(exec.Steps))
	copy(execCopy.Steps, exec.Steps)
	return &execCopy
}

func copyDeployment(dep *types.Deployment) *types.Deployment {
	depCopy := *dep
	depCopy.FlagKeys = make([]string, len(dep.FlagKeys))
	copy(depCopy.FlagKeys, dep.FlagKeys)
	depCopy.Events = make([]types.DeploymentEvent, len(dep.Events))
	copy(depCopy.Events, dep.Events)
	return &depCopy
}
