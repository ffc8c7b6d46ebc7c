// pkg/rollout/engine.go
package rollout

import (
	"context"
	"fmt"
	"time"

	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/flags"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/monitoring"
	"github.com/releasegate/releasegate/pkg/scheduler"
	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

// stageLadder is the fixed increment ladder stages are derived from; the
// rungs at or below a rollout's initial percentage are skipped.
var stageLadder = []float64{5, 10, 25, 50, 75, 100}

// Engine owns one progressive rollout per flag. Each active rollout has a
// scheduler task evaluating the current stage's criteria on every tick;
// state transitions happen only under the engine lock, and every callback
// re-checks status first so a tick racing a cancellation is a no-op.
type Engine struct {
	flagStore *flags.Store
	store     storage.Store
	provider  metrics.Provider
	sched     *scheduler.Scheduler
	bus       *events.Bus
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	cfg       config.RolloutConfig

	mu       sync.Mutex
	rollouts map[string]*types.RolloutState
	byFlag   map[string]string

	fetchTimeout time.Duration
	now          func() time.Time
}

func NewEngine(
	cfg config.RolloutConfig,
	fetchTimeout time.Duration,
	flagStore *flags.Store,
	store storage.Store,
	provider metrics.Provider,
	sched *scheduler.Scheduler,
	bus *events.Bus,
	selfMetrics *monitoring.Metrics,
	logger *zap.Logger,
) *Engine {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Engine{
		flagStore: flagStore,
		store:     store,
		provider:  provider,
		sched:     sched,
		bus:       bus,
		metrics:   selfMetrics,
		logger:    logger,
		cfg:       cfg,
		rollouts:  make(map[string]*types.RolloutState),
		byFlag:    make(map[string]string),

		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}
}

// CreateRollout materializes a rollout flag at initialPct exposure and starts
// stage progression on stageInterval. An initial percentage at the top of the
// ladder completes immediately.
func (e *Engine) CreateRollout(ctx context.Context, deploymentID, flagKey, flagName string, initialPct float64, stageInterval, maxDuration time.Duration) (string, error) {
	if initialPct < 0 || initialPct > 100 {
		return "", fmt.Errorf("initial percentage %v out of range", initialPct)
	}
	if stageInterval <= 0 {
		stageInterval = e.cfg.IncrementInterval
	}

	e.mu.Lock()
	if existingID, exists := e.byFlag[flagKey]; exists {
		if st := e.rollouts[existingID]; st != nil && st.Status == types.RolloutStatusActive {
			e.mu.Unlock()
			return "", fmt.Errorf("flag %s already has an active rollout", flagKey)
		}
	}
	e.mu.Unlock()

	flag := flags.NewRolloutFlag(flagKey, flagName, "", initialPct)
	if err := e.flagStore.Create(ctx, flag); err != nil {
		return "", err
	}
	e.bus.Emit(events.Event{
		Type:         events.TypeFlagCreated,
		DeploymentID: deploymentID,
		FlagKey:      flagKey,
		Metadata:     map[string]interface{}{"initial_percentage": initialPct},
	})

	state := &types.RolloutState{
		ID:                uuid.New().String(),
		FlagKey:           flagKey,
		DeploymentID:      deploymentID,
		CurrentPercentage: initialPct,
		Stages:            buildStages(initialPct, stageInterval, e.cfg.Criteria),
		Status:            types.RolloutStatusActive,
		StageInterval:     stageInterval,
		MaxDuration:       maxDuration,
		StartTime:         e.now(),
		UpdatedAt:         e.now(),
	}

	if len(state.Stages) == 0 {
		state.Status = types.RolloutStatusCompleted
		state.CurrentPercentage = 100
	}

	e.mu.Lock()
	e.rollouts[state.ID] = state
	e.byFlag[flagKey] = state.ID
	e.mu.Unlock()

	if err := e.store.SaveRollout(ctx, state); err != nil {
		return "", fmt.Errorf("failed to persist rollout: %w", err)
	}

	if state.Status == types.RolloutStatusCompleted {
		e.bus.Emit(events.Event{
			Type:         events.TypeRolloutCompleted,
			DeploymentID: deploymentID,
			FlagKey:      flagKey,
			Metadata:     map[string]interface{}{"rollout_id": state.ID},
		})
		e.metrics.RecordRollout("completed")
		return state.ID, nil
	}

	e.schedule(state.ID, stageInterval)
	e.metrics.RecordRollout("started")
	e.logger.Info("rollout created",
		zap.String("rollout_id", state.ID),
		zap.String("flag_key", flagKey),
		zap.Float64("initial_percentage", initialPct),
		zap.Int("stages", len(state.Stages)))
	return state.ID, nil
}

// Restore re-registers persisted rollouts after a restart and resumes the
// timers of active ones.
func (e *Engine) Restore(ctx context.Context) error {
	states, err := e.store.ListRollouts(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to restore rollouts: %w", err)
	}

	e.mu.Lock()
	for _, state := range states {
		e.rollouts[state.ID] = state
		e.byFlag[state.FlagKey] = state.ID
	}
	e.mu.Unlock()

	restored := 0
	for _, state := range states {
		if state.Status == types.RolloutStatusActive {
			e.schedule(state.ID, state.StageInterval)
			restored++
		}
	}
	e.logger.Info("rollouts restored", zap.Int("total", len(states)), zap.Int("active", restored))
	return nil
}

// Pause stops progression. Pausing a non-active rollout is a no-op.
func (e *Engine) Pause(ctx context.Context, rolloutID string) error {
	e.mu.Lock()
	state, exists := e.rollouts[rolloutID]
	if !exists {
		e.mu.Unlock()
		return storage.ErrNotFound
	}
	if state.Status != types.RolloutStatusActive {
		e.mu.Unlock()
		return nil
	}
	state.Status = types.RolloutStatusPaused
	state.PauseReason = types.PauseReasonOperator
	state.UpdatedAt = e.now()
	snapshot := *state
	e.mu.Unlock()

	e.sched.Cancel(taskID(rolloutID))
	if err := e.store.SaveRollout(ctx, &snapshot); err != nil {
		return err
	}
	e.bus.Emit(events.Event{
		Type:         events.TypeRolloutPaused,
		DeploymentID: snapshot.DeploymentID,
		FlagKey:      snapshot.FlagKey,
		Metadata:     map[string]interface{}{"rollout_id": rolloutID, "reason": types.PauseReasonOperator},
	})
	e.metrics.RecordRollout("paused")
	return nil
}

// Resume restarts a paused rollout's timer. Resuming a non-paused rollout is
// a no-op.
func (e *Engine) Resume(ctx context.Context, rolloutID string) error {
	e.mu.Lock()
	state, exists := e.rollouts[rolloutID]
	if !exists {
		e.mu.Unlock()
		return storage.ErrNotFound
	}
	if state.Status != types.RolloutStatusPaused {
		e.mu.Unlock()
		return nil
	}
	state.Status = types.RolloutStatusActive
	state.PauseReason = ""
	state.UpdatedAt = e.now()
	snapshot := *state
	e.mu.Unlock()

	if err := e.store.SaveRollout(ctx, &snapshot); err != nil {
		return err
	}
	e.schedule(rolloutID, snapshot.StageInterval)
	e.bus.Emit(events.Event{
		Type:         events.TypeRolloutResumed,
		DeploymentID: snapshot.DeploymentID,
		FlagKey:      snapshot.FlagKey,
		Metadata:     map[string]interface{}{"rollout_id": rolloutID},
	})
	return nil
}

// Revert forces every non-terminal rollout of the deployment back to zero
// exposure. Used on rollback and by the operator revert endpoint.
func (e *Engine) Revert(ctx context.Context, deploymentID string) error {
	e.mu.Lock()
	var affected []*types.RolloutState
	for _, state := range e.rollouts {
		if state.DeploymentID != deploymentID {
			continue
		}
		if state.Status != types.RolloutStatusActive && state.Status != types.RolloutStatusPaused {
			continue
		}
		state.Status = types.RolloutStatusReverted
		state.CurrentPercentage = 0
		state.UpdatedAt = e.now()
		snapshot := *state
		affected = append(affected, &snapshot)
	}
	e.mu.Unlock()

	for _, snapshot := range affected {
		e.sched.Cancel(taskID(snapshot.ID))
		if err := e.flagStore.SetRolloutPercentage(ctx, snapshot.FlagKey, 0); err != nil {
			e.logger.Error("failed to zero flag weights on revert",
				zap.String("flag_key", snapshot.FlagKey), zap.Error(err))
		}
		if err := e.store.SaveRollout(ctx, snapshot); err != nil {
			e.logger.Error("failed to persist reverted rollout",
				zap.String("rollout_id", snapshot.ID), zap.Error(err))
		}
		e.bus.Emit(events.Event{
			Type:         events.TypeRolloutReverted,
			DeploymentID: deploymentID,
			FlagKey:      snapshot.FlagKey,
			Metadata:     map[string]interface{}{"rollout_id": snapshot.ID},
		})
		e.metrics.RecordRollout("reverted")
	}
	return nil
}

// Status returns a copy of the rollout state.
func (e *Engine) Status(rolloutID string) (*types.RolloutState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, exists := e.rollouts[rolloutID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	snapshot := *state
	snapshot.Stages = make([]types.RolloutStage, len(state.Stages))
	copy(snapshot.Stages, state.Stages)
	return &snapshot, nil
}

// StatusByFlag returns the rollout tied to a flag, if any.
func (e *Engine) StatusByFlag(flagKey string) (*types.RolloutState, error) {
	e.mu.Lock()
	rolloutID, exists := e.byFlag[flagKey]
	e.mu.Unlock()
	if !exists {
		return nil, storage.ErrNotFound
	}
	return e.Status(rolloutID)
}

func (e *Engine) schedule(rolloutID string, interval time.Duration) {
	e.sched.Schedule(taskID(rolloutID), interval, func(ctx context.Context) {
		e.tick(ctx, rolloutID)
	})
}

// tick evaluates the current stage once. A metrics fetch failure is
// inconclusive: the cycle is skipped rather than counted as pass or fail.
func (e *Engine) tick(ctx context.Context, rolloutID string) {
	e.mu.Lock()
	state, exists := e.rollouts[rolloutID]
	if !exists || state.Status != types.RolloutStatusActive {
		e.mu.Unlock()
		return
	}

	if state.MaxDuration > 0 && e.now().Sub(state.StartTime) > state.MaxDuration {
		state.Status = types.RolloutStatusPaused
		state.PauseReason = types.PauseReasonMaxDurationExceeded
		state.UpdatedAt = e.now()
		snapshot := *state
		e.mu.Unlock()
		e.finishPause(ctx, &snapshot, types.PauseReasonMaxDurationExceeded, nil)
		return
	}

	stage := state.CurrentStage()
	if stage == nil {
		e.mu.Unlock()
		return
	}
	currentStage := *stage
	deploymentID := state.DeploymentID
	flagKey := state.FlagKey
	e.mu.Unlock()

	started := e.now()
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	snapshot, err := e.provider.FetchMetrics(fetchCtx, deploymentID)
	cancel()
	if err != nil {
		e.metrics.RecordMetricsFetchError("rollout")
		e.logger.Warn("metrics fetch failed, skipping stage evaluation",
			zap.String("rollout_id", rolloutID),
			zap.String("deployment_id", deploymentID),
			zap.Error(err))
		return
	}

	passed, checks := currentStage.Criteria.Evaluate(snapshot)
	e.metrics.RecordStageEvalDuration(flagKey, e.now().Sub(started).Seconds())

	e.mu.Lock()
	state, exists = e.rollouts[rolloutID]
	if !exists || state.Status != types.RolloutStatusActive {
		// Paused or reverted while we were fetching metrics.
		e.mu.Unlock()
		return
	}
	state.LastMetrics = snapshot
	state.UpdatedAt = e.now()

	if !passed {
		state.Status = types.RolloutStatusPaused
		state.PauseReason = types.PauseReasonCriteriaNotMet
		stateCopy := *state
		e.mu.Unlock()
		e.finishPause(ctx, &stateCopy, types.PauseReasonCriteriaNotMet, checks)
		return
	}

	state.CurrentPercentage = currentStage.TargetPercentage
	state.CurrentStageIndex++
	completed := state.CurrentStageIndex >= len(state.Stages)
	if completed {
		state.Status = types.RolloutStatusCompleted
		state.CurrentPercentage = 100
	}
	stateCopy := *state
	e.mu.Unlock()

	if err := e.flagStore.SetRolloutPercentage(ctx, flagKey, stateCopy.CurrentPercentage); err != nil {
		e.logger.Error("failed to update flag weights",
			zap.String("flag_key", flagKey), zap.Error(err))
	}
	if err := e.store.SaveRollout(ctx, &stateCopy); err != nil {
		e.logger.Error("failed to persist rollout",
			zap.String("rollout_id", rolloutID), zap.Error(err))
	}

	e.bus.Emit(events.Event{
		Type:         events.TypeRolloutStageCompleted,
		DeploymentID: deploymentID,
		FlagKey:      flagKey,
		Metadata: map[string]interface{}{
			"rollout_id": rolloutID,
			"percentage": currentStage.TargetPercentage,
			"stage":      stateCopy.CurrentStageIndex - 1,
		},
	})

	if completed {
		e.sched.Cancel(taskID(rolloutID))
		e.bus.Emit(events.Event{
			Type:         events.TypeRolloutCompleted,
			DeploymentID: deploymentID,
			FlagKey:      flagKey,
			Metadata:     map[string]interface{}{"rollout_id": rolloutID},
		})
		e.metrics.RecordRollout("completed")
		e.logger.Info("rollout completed",
			zap.String("rollout_id", rolloutID),
			zap.String("flag_key", flagKey))
	}
}

func (e *Engine) finishPause(ctx context.Context, state *types.RolloutState, reason string, checks []types.CheckResult) {
	// The save must land before Cancel: cancelling the task cancels the
	// tick's own context, and an unpersisted pause would come back active
	// after a restart.
	if err := e.store.SaveRollout(ctx, state); err != nil {
		e.logger.Error("failed to persist paused rollout",
			zap.String("rollout_id", state.ID), zap.Error(err))
	}
	e.sched.Cancel(taskID(state.ID))
	metadata := map[string]interface{}{
		"rollout_id": state.ID,
		"reason":     reason,
	}
	if len(checks) > 0 {
		var failed []string
		for _, check := range checks {
			if !check.Passed {
				failed = append(failed, check.Name)
			}
		}
		metadata["failed_checks"] = failed
	}
	e.bus.Emit(events.Event{
		Type:         events.TypeRolloutPaused,
		DeploymentID: state.DeploymentID,
		FlagKey:      state.FlagKey,
		Metadata:     metadata,
	})
	e.metrics.RecordRollout("paused")
	e.logger.Warn("rollout paused",
		zap.String("rollout_id", state.ID),
		zap.String("reason", reason))
}

func buildStages(initialPct float64, interval time.Duration, criteria types.SuccessCriteria) []types.RolloutStage {
	var stages []types.RolloutStage
	for _, target := range stageLadder {
		if target <= initialPct {
			continue
		}
		stages = append(stages, types.RolloutStage{
			TargetPercentage: target,
			Duration:         interval,
			Criteria:         criteria,
		})
	}
	return stages
}

func taskID(rolloutID string) string {
	return "rollout/" + rolloutID
}
