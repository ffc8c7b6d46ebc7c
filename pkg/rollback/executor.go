// pkg/rollback/executor.go
package rollback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/actions"
	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/monitoring"
	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

// gradualRungs are the traffic percentages the gradual strategy walks the
// failed version down through, ending at zero.
var gradualRungs = []float64{75, 50, 25, 0}

// blueGreenSteps are the fixed actions of the blue-green strategy, in order.
var blueGreenSteps = []string{
	"switch_traffic_to_previous",
	"validate_traffic_switch",
	"decommission_failed_version",
}

// OnSuccessFunc runs after a rollback completes. The orchestrator uses it to
// revert the deployment's rollouts and reset its triggers.
type OnSuccessFunc func(ctx context.Context, deploymentID string)

// Executor runs rollbacks. One rollback per deployment at a time; a finished
// rollback starts a cooldown window during which new requests are refused.
// Each execution makes up to MaxAttempts passes over the strategy's steps
// and archives a single execution record.
type Executor struct {
	cfg        config.RollbackConfig
	automation config.AutomationConfig
	provider   metrics.Provider
	runner     actions.ActionExecutor
	actuator   actions.TrafficActuator
	store      storage.Store
	bus        *events.Bus
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	verifier   *verifier

	fetchTimeout time.Duration

	mu        sync.Mutex
	inFlight  map[string]bool
	lastEnd   map[string]time.Time
	onSuccess OnSuccessFunc

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	cfg config.RollbackConfig,
	automation config.AutomationConfig,
	fetchTimeout time.Duration,
	provider metrics.Provider,
	runner actions.ActionExecutor,
	actuator actions.TrafficActuator,
	store storage.Store,
	bus *events.Bus,
	selfMetrics *monitoring.Metrics,
	logger *zap.Logger,
) (*Executor, error) {
	v, err := newVerifier(cfg.Verification)
	if err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case types.StrategyImmediate, types.StrategyGradual, types.StrategyBlueGreen:
	default:
		return nil, &ConfigurationError{Field: "strategy", Detail: fmt.Sprintf("unknown strategy %q", cfg.Strategy)}
	}
	if cfg.Strategy == types.StrategyImmediate && len(cfg.Steps) == 0 {
		return nil, &ConfigurationError{Field: "steps", Detail: "immediate strategy requires at least one step"}
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Executor{
		cfg:          cfg,
		automation:   automation,
		provider:     provider,
		runner:       runner,
		actuator:     actuator,
		store:        store,
		bus:          bus,
		metrics:      selfMetrics,
		logger:       logger,
		verifier:     v,
		fetchTimeout: fetchTimeout,
		inFlight:     make(map[string]bool),
		lastEnd:      make(map[string]time.Time),
		now:          time.Now,
		sleep:        sleepCtx,
	}, nil
}

// SetOnSuccess wires the completion callback.
func (e *Executor) SetOnSuccess(fn OnSuccessFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSuccess = fn
}

// ApplyAutomation rebinds the automation settings on a hot reload. Applies
// to executions started after the call; a rollback already in flight keeps
// the attempt count it started with.
func (e *Executor) ApplyAutomation(automation config.AutomationConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.automation = automation
}

// History returns the archived executions for a deployment.
func (e *Executor) History(ctx context.Context, deploymentID string) ([]*types.RollbackExecution, error) {
	return e.store.ListExecutions(ctx, deploymentID)
}

// Execute runs a rollback for the deployment. It refuses overlapping
// rollbacks and rollbacks inside the cooldown window; both refusals happen
// before any side effect.
func (e *Executor) Execute(ctx context.Context, deploymentID, reason string) (*types.RollbackExecution, error) {
	if err := e.acquire(ctx, deploymentID); err != nil {
		return nil, err
	}
	defer e.release(deploymentID)

	e.mu.Lock()
	maxAttempts := e.automation.MaxAttempts
	e.mu.Unlock()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exec := &types.RollbackExecution{
		ID:           uuid.New().String(),
		DeploymentID: deploymentID,
		Reason:       reason,
		Strategy:     e.cfg.Strategy,
		Status:       types.ExecutionStatusInProgress,
		MaxAttempts:  maxAttempts,
		StartTime:    e.now(),
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to persist rollback execution: %w", err)
	}

	e.logger.Warn("rollback started",
		zap.String("deployment_id", deploymentID),
		zap.String("execution_id", exec.ID),
		zap.String("strategy", e.cfg.Strategy),
		zap.String("reason", reason))

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		exec.Attempts = attempt
		if attempt > 1 {
			exec.Reason = fmt.Sprintf("%s_retry_%d", reason, attempt-1)
		}
		exec.Steps = exec.Steps[:0]
		exec.Error = ""

		err := e.runStrategy(ctx, exec)
		if err == nil {
			err = e.verify(ctx, deploymentID)
		}

		if err == nil {
			end := e.now()
			exec.Status = types.ExecutionStatusCompleted
			exec.EndTime = &end
			if saveErr := e.store.SaveExecution(ctx, exec); saveErr != nil {
				e.logger.Error("failed to archive rollback execution",
					zap.String("execution_id", exec.ID), zap.Error(saveErr))
			}
			e.bus.Emit(events.Event{
				Type:         events.TypeRollbackCompleted,
				DeploymentID: deploymentID,
				Metadata: map[string]interface{}{
					"execution_id": exec.ID,
					"reason":       exec.Reason,
					"attempts":     attempt,
				},
			})
			e.metrics.RecordRollback(e.cfg.Strategy, "completed")
			e.metrics.RecordRollbackDuration(e.cfg.Strategy, end.Sub(exec.StartTime).Seconds())
			e.logger.Info("rollback completed",
				zap.String("deployment_id", deploymentID),
				zap.String("execution_id", exec.ID),
				zap.Int("attempts", attempt))

			e.mu.Lock()
			onSuccess := e.onSuccess
			e.mu.Unlock()
			if onSuccess != nil {
				onSuccess(ctx, deploymentID)
			}
			return exec, nil
		}

		exec.Error = err.Error()
		if saveErr := e.store.SaveExecution(ctx, exec); saveErr != nil {
			e.logger.Error("failed to persist rollback execution",
				zap.String("execution_id", exec.ID), zap.Error(saveErr))
		}
		e.bus.Emit(events.Event{
			Type:         events.TypeRollbackFailed,
			DeploymentID: deploymentID,
			Metadata: map[string]interface{}{
				"execution_id": exec.ID,
				"reason":       exec.Reason,
				"attempt":      attempt,
				"error":        err.Error(),
			},
		})
		e.metrics.RecordRollback(e.cfg.Strategy, "attempt_failed")
		e.logger.Error("rollback attempt failed",
			zap.String("deployment_id", deploymentID),
			zap.String("execution_id", exec.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < maxAttempts && e.cfg.RetryDelay > 0 {
			if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
				break
			}
		}
	}

	end := e.now()
	exec.Status = types.ExecutionStatusFailed
	exec.EndTime = &end
	if saveErr := e.store.SaveExecution(ctx, exec); saveErr != nil {
		e.logger.Error("failed to archive rollback execution",
			zap.String("execution_id", exec.ID), zap.Error(saveErr))
	}
	e.bus.Emit(events.Event{
		Type:         events.TypeRollbackExhausted,
		DeploymentID: deploymentID,
		Metadata: map[string]interface{}{
			"execution_id": exec.ID,
			"attempts":     exec.Attempts,
			"error":        exec.Error,
		},
	})
	e.bus.Emit(events.Event{
		Type:         events.TypeManualInterventionRequired,
		DeploymentID: deploymentID,
		Metadata: map[string]interface{}{
			"reason":       "rollback_exhausted",
			"execution_id": exec.ID,
		},
	})
	e.metrics.RecordRollback(e.cfg.Strategy, "exhausted")
	e.metrics.RecordRollbackDuration(e.cfg.Strategy, end.Sub(exec.StartTime).Seconds())
	return exec, &ExhaustionError{DeploymentID: deploymentID, Attempts: exec.Attempts}
}

// acquire claims the deployment's rollback slot, enforcing single flight and
// the cooldown window. The last execution end survives restarts through the
// archived executions.
func (e *Executor) acquire(ctx context.Context, deploymentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[deploymentID] {
		return ErrRollbackInFlight
	}

	last, known := e.lastEnd[deploymentID]
	if !known {
		execs, err := e.store.ListExecutions(ctx, deploymentID)
		if err == nil {
			for _, prev := range execs {
				if prev.EndTime != nil && prev.EndTime.After(last) {
					last = *prev.EndTime
				}
			}
			e.lastEnd[deploymentID] = last
		}
	}
	if e.automation.Cooldown > 0 && !last.IsZero() {
		if remaining := e.automation.Cooldown - e.now().Sub(last); remaining > 0 {
			return &CooldownError{DeploymentID: deploymentID, Remaining: remaining}
		}
	}

	e.inFlight[deploymentID] = true
	return nil
}

func (e *Executor) release(deploymentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, deploymentID)
	e.lastEnd[deploymentID] = e.now()
}

func (e *Executor) runStrategy(ctx context.Context, exec *types.RollbackExecution) error {
	switch e.cfg.Strategy {
	case types.StrategyImmediate:
		return e.runImmediate(ctx, exec)
	case types.StrategyGradual:
		return e.runGradual(ctx, exec)
	case types.StrategyBlueGreen:
		return e.runBlueGreen(ctx, exec)
	default:
		return &ConfigurationError{Field: "strategy", Detail: fmt.Sprintf("unknown strategy %q", e.cfg.Strategy)}
	}
}

func (e *Executor) runImmediate(ctx context.Context, exec *types.RollbackExecution) error {
	for i, step := range e.cfg.Steps {
		timeout := step.Timeout
		if timeout <= 0 {
			timeout = e.cfg.StepTimeout
		}
		retries := e.cfg.StepRetries
		if step.Retries != nil {
			retries = *step.Retries
		}
		err := e.runStep(ctx, exec, i, step.Name, step.Action, retries, func(stepCtx context.Context) error {
			return e.runner.RunAction(stepCtx, step.Action, timeout)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runGradual(ctx context.Context, exec *types.RollbackExecution) error {
	for i, rung := range gradualRungs {
		rung := rung
		name := fmt.Sprintf("shift_traffic_%.0f", rung)
		err := e.runStep(ctx, exec, i, name, "shift_traffic", e.cfg.StepRetries, func(stepCtx context.Context) error {
			return e.actuator.ShiftTraffic(stepCtx, exec.DeploymentID, rung)
		})
		if err != nil {
			return err
		}
		if i < len(gradualRungs)-1 && e.cfg.RungDelay > 0 {
			if err := e.sleep(ctx, e.cfg.RungDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) runBlueGreen(ctx context.Context, exec *types.RollbackExecution) error {
	for i, action := range blueGreenSteps {
		action := action
		err := e.runStep(ctx, exec, i, action, action, e.cfg.StepRetries, func(stepCtx context.Context) error {
			return e.runner.RunAction(stepCtx, action, e.cfg.StepTimeout)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runStep runs one step with up to retries+1 attempts. Timeouts are retried
// like any other failure.
func (e *Executor) runStep(ctx context.Context, exec *types.RollbackExecution, index int, name, action string, retries int, fn func(ctx context.Context) error) error {
	maxAttempts := retries + 1
	st := types.StepExecution{
		Index:       index,
		Name:        name,
		Action:      action,
		Status:      types.ExecutionStatusInProgress,
		MaxAttempts: maxAttempts,
		StartTime:   e.now(),
	}
	exec.Steps = append(exec.Steps, st)
	slot := len(exec.Steps) - 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		exec.Steps[slot].Attempts = attempt
		lastErr = fn(ctx)
		if lastErr == nil {
			break
		}

		var timeoutErr *actions.TimeoutError
		if errors.As(lastErr, &timeoutErr) {
			e.logger.Warn("rollback step timed out",
				zap.String("execution_id", exec.ID),
				zap.String("step", name),
				zap.Duration("timeout", timeoutErr.Timeout))
		}

		if attempt < maxAttempts {
			e.metrics.RecordStepRetry(name)
			e.logger.Warn("retrying rollback step",
				zap.String("execution_id", exec.ID),
				zap.String("step", name),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if e.cfg.RetryDelay > 0 {
				if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
					lastErr = err
					break
				}
			}
		}
	}

	end := e.now()
	exec.Steps[slot].EndTime = &end
	if lastErr != nil {
		exec.Steps[slot].Status = types.ExecutionStatusFailed
		exec.Steps[slot].Error = lastErr.Error()
		return fmt.Errorf("step %s failed after %d attempts: %w", name, exec.Steps[slot].Attempts, lastErr)
	}
	exec.Steps[slot].Status = types.ExecutionStatusCompleted

	if err := e.store.SaveExecution(ctx, exec); err != nil {
		e.logger.Error("failed to persist rollback execution",
			zap.String("execution_id", exec.ID), zap.Error(err))
	}
	return nil
}

// verify fetches a fresh snapshot and runs the configured checks. A fetch
// failure fails the attempt.
func (e *Executor) verify(ctx context.Context, deploymentID string) error {
	if len(e.verifier.checks) == 0 {
		return nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	snapshot, err := e.provider.FetchMetrics(fetchCtx, deploymentID)
	cancel()
	if err != nil {
		e.metrics.RecordMetricsFetchError("rollback")
		return fmt.Errorf("verification metrics fetch failed: %w", err)
	}
	return e.verifier.run(snapshot)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
