// orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/actions"
	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/flags"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/monitoring"
	"github.com/releasegate/releasegate/pkg/rollback"
	"github.com/releasegate/releasegate/pkg/rollout"
	"github.com/releasegate/releasegate/pkg/scheduler"
	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/triggers"
	"github.com/releasegate/releasegate/pkg/types"
)

// Controller wires the flag store, rollout engine, trigger monitor and
// rollback executor together. It owns the cross-component callbacks: a
// tripped trigger starts a rollback, and a completed rollback reverts the
// deployment's rollouts and resets its triggers.
type Controller struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Store
	bus      *events.Bus
	metrics  *monitoring.Metrics
	provider metrics.Provider
	sched    *scheduler.Scheduler

	flags    *flags.Store
	engine   *rollout.Engine
	monitor  *triggers.Monitor
	executor *rollback.Executor
}

func New(
	cfg *config.Config,
	store storage.Store,
	provider metrics.Provider,
	runner actions.ActionExecutor,
	actuator actions.TrafficActuator,
	bus *events.Bus,
	selfMetrics *monitoring.Metrics,
	logger *zap.Logger,
) (*Controller, error) {
	sched := scheduler.New(logger)
	flagStore := flags.NewStore(store, logger)

	engine := rollout.NewEngine(cfg.Rollout, cfg.Metrics.FetchTimeout, flagStore, store, provider, sched, bus, selfMetrics, logger)

	monitor, err := triggers.NewMonitor(cfg.Triggers, cfg.Automation, cfg.Metrics.FetchTimeout, provider, store, sched, bus, selfMetrics, logger)
	if err != nil {
		return nil, err
	}

	executor, err := rollback.NewExecutor(cfg.Rollback, cfg.Automation, cfg.Metrics.FetchTimeout, provider, runner, actuator, store, bus, selfMetrics, logger)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		bus:      bus,
		metrics:  selfMetrics,
		provider: provider,
		sched:    sched,
		flags:    flagStore,
		engine:   engine,
		monitor:  monitor,
		executor: executor,
	}

	monitor.SetRollbackFunc(func(ctx context.Context, deploymentID, reason string) error {
		_, err := c.executor.Execute(ctx, deploymentID, reason)
		return err
	})
	executor.SetOnSuccess(c.afterRollback)

	return c, nil
}

// Start loads persisted state and resumes interrupted work. Rollback
// executions caught mid-flight by the previous shutdown are failed over to
// manual handling rather than blindly re-run.
func (c *Controller) Start(ctx context.Context) error {
	c.logger.Info("controller starting",
		zap.String("action", "start"),
		zap.String("subject", "controller"))

	if err := c.flags.Load(ctx); err != nil {
		return err
	}
	if err := c.engine.Restore(ctx); err != nil {
		return err
	}

	deployments, err := c.store.ListDeployments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}
	for _, dep := range deployments {
		if dep.Status == types.DeploymentStatusActive {
			if err := c.monitor.Attach(ctx, dep.ID); err != nil {
				c.logger.Error("failed to reattach triggers",
					zap.String("deployment_id", dep.ID), zap.Error(err))
			}
		}
		c.failOverExecutions(ctx, dep.ID)
	}

	c.logger.Info("controller started",
		zap.String("action", "start"),
		zap.String("subject", "controller"),
		zap.String("result", "success"),
		zap.Int("deployments", len(deployments)))
	return nil
}

// Stop shuts the control loops down and flushes the event bus.
func (c *Controller) Stop(ctx context.Context) error {
	c.sched.Stop()
	if err := c.bus.Close(); err != nil {
		c.logger.Error("event bus close failed", zap.Error(err))
	}
	if err := c.store.Close(ctx); err != nil {
		return err
	}
	c.logger.Info("controller stopped",
		zap.String("action", "stop"),
		zap.String("subject", "controller"),
		zap.String("result", "success"))
	return nil
}

// ApplyConfig handles a hot reload. Trigger definitions and automation
// settings rebind live; storage, server, rollout and rollback strategy
// settings are bound at construction and need a restart.
func (c *Controller) ApplyConfig(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.monitor.ApplyConfig(ctx, cfg.Triggers, cfg.Automation); err != nil {
		c.logger.Error("trigger configuration reload rejected, keeping previous",
			zap.String("action", "reload"),
			zap.String("subject", "config"),
			zap.Error(err))
		return
	}
	c.executor.ApplyAutomation(cfg.Automation)
	c.cfg.Triggers = cfg.Triggers
	c.cfg.Automation = cfg.Automation

	c.logger.Info("configuration reloaded",
		zap.String("action", "reload"),
		zap.String("subject", "config"),
		zap.String("result", "success"),
		zap.Int("triggers", len(cfg.Triggers.Definitions)))

	if c.cfg.Storage != cfg.Storage || c.cfg.Server != cfg.Server {
		c.logger.Warn("storage or server settings changed on disk",
			zap.String("action", "reload"),
			zap.String("subject", "config"),
			zap.String("result", "restart_required"))
	}
}

// --- flags ---

func (c *Controller) CreateFlag(ctx context.Context, flag *types.FeatureFlag) error {
	if err := c.flags.Create(ctx, flag); err != nil {
		return err
	}
	c.bus.Emit(events.Event{
		Type:    events.TypeFlagCreated,
		FlagKey: flag.Key,
	})
	return nil
}

// UpdateFlag replaces a flag's targeting definition. The rollout percentage
// and its fallthrough weights stay owned by the rollout engine, so they are
// only overwritten when the update supplies a fallthrough of its own.
func (c *Controller) UpdateFlag(ctx context.Context, flag *types.FeatureFlag) error {
	err := c.flags.Update(ctx, flag.Key, func(current *types.FeatureFlag) error {
		current.Name = flag.Name
		current.Variations = flag.Variations
		current.Rules = flag.Rules
		current.DefaultVariation = flag.DefaultVariation
		current.Environment = flag.Environment
		if flag.Fallthrough.Variation != "" || flag.Fallthrough.Rollout != nil {
			current.Fallthrough = flag.Fallthrough
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.bus.Emit(events.Event{
		Type:    events.TypeFlagUpdated,
		FlagKey: flag.Key,
	})
	return nil
}

func (c *Controller) GetFlag(key string) (*types.FeatureFlag, error) {
	return c.flags.Get(key)
}

func (c *Controller) ListFlags() []*types.FeatureFlag {
	return c.flags.List()
}

func (c *Controller) DeleteFlag(ctx context.Context, key string) error {
	if err := c.flags.Delete(ctx, key); err != nil {
		return err
	}
	c.bus.Emit(events.Event{
		Type:    events.TypeFlagDeleted,
		FlagKey: key,
	})
	return nil
}

// EvaluateFlag resolves a flag for a user context.
func (c *Controller) EvaluateFlag(key string, evalCtx *types.EvalContext) (flags.Result, error) {
	result, err := c.flags.Evaluate(key, evalCtx)
	if err != nil {
		return flags.Result{}, err
	}
	c.metrics.RecordFlagEvaluation(key, result.Reason)
	return result, nil
}

// --- deployments ---

// RegisterDeployment records a new release and starts watching it: rollback
// triggers attach immediately, and a progressive rollout flag is created when
// the deployment names flag keys.
func (c *Controller) RegisterDeployment(ctx context.Context, dep *types.Deployment) error {
	if dep.ID == "" {
		return fmt.Errorf("deployment id is required")
	}
	if _, err := c.store.GetDeployment(ctx, dep.ID); err == nil {
		return fmt.Errorf("deployment %s already exists", dep.ID)
	}

	now := time.Now()
	dep.Status = types.DeploymentStatusActive
	dep.CreatedAt = now
	dep.UpdatedAt = now
	dep.AddEvent("info", "registered", fmt.Sprintf("deployment %s version %s registered", dep.App, dep.Version))
	if err := c.store.SaveDeployment(ctx, dep); err != nil {
		return fmt.Errorf("failed to persist deployment: %w", err)
	}

	for _, flagKey := range dep.FlagKeys {
		name := fmt.Sprintf("%s %s rollout", dep.App, dep.Version)
		if _, err := c.engine.CreateRollout(ctx, dep.ID, flagKey, name,
			c.cfg.Rollout.InitialPercentage, c.cfg.Rollout.IncrementInterval, c.cfg.Rollout.MaxDuration); err != nil {
			return fmt.Errorf("failed to create rollout for flag %s: %w", flagKey, err)
		}
	}

	if err := c.monitor.Attach(ctx, dep.ID); err != nil {
		return err
	}

	c.logger.Info("deployment registered",
		zap.String("action", "register"),
		zap.String("subject", dep.ID),
		zap.String("result", "success"),
		zap.String("app", dep.App),
		zap.String("version", dep.Version))
	return nil
}

func (c *Controller) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	return c.store.GetDeployment(ctx, id)
}

func (c *Controller) ListDeployments(ctx context.Context) ([]*types.Deployment, error) {
	return c.store.ListDeployments(ctx)
}

// RetireDeployment stops watching a deployment and marks it retired.
func (c *Controller) RetireDeployment(ctx context.Context, id string) error {
	dep, err := c.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	if err := c.monitor.Detach(ctx, id); err != nil {
		return err
	}
	dep.Status = types.DeploymentStatusRetired
	dep.AddEvent("info", "retired", "deployment retired")
	return c.store.SaveDeployment(ctx, dep)
}

// --- rollouts ---

func (c *Controller) StartRollout(ctx context.Context, deploymentID, flagKey, flagName string, initialPct float64) (string, error) {
	if initialPct <= 0 {
		initialPct = c.cfg.Rollout.InitialPercentage
	}
	return c.engine.CreateRollout(ctx, deploymentID, flagKey, flagName,
		initialPct, c.cfg.Rollout.IncrementInterval, c.cfg.Rollout.MaxDuration)
}

func (c *Controller) PauseRollout(ctx context.Context, rolloutID string) error {
	return c.engine.Pause(ctx, rolloutID)
}

func (c *Controller) ResumeRollout(ctx context.Context, rolloutID string) error {
	return c.engine.Resume(ctx, rolloutID)
}

func (c *Controller) RolloutStatus(rolloutID string) (*types.RolloutState, error) {
	return c.engine.Status(rolloutID)
}

func (c *Controller) RolloutStatusByFlag(flagKey string) (*types.RolloutState, error) {
	return c.engine.StatusByFlag(flagKey)
}

// RevertDeployment zeroes every rollout of the deployment without running a
// rollback. Used when the operator wants the flags off but the
// infrastructure untouched.
func (c *Controller) RevertDeployment(ctx context.Context, deploymentID string) error {
	if err := c.engine.Revert(ctx, deploymentID); err != nil {
		return err
	}
	if dep, err := c.store.GetDeployment(ctx, deploymentID); err == nil {
		dep.AddEvent("warn", "reverted", "rollouts reverted by operator")
		if err := c.store.SaveDeployment(ctx, dep); err != nil {
			c.logger.Error("failed to persist deployment", zap.String("deployment_id", deploymentID), zap.Error(err))
		}
	}
	return nil
}

// --- triggers and rollbacks ---

func (c *Controller) TriggerStatus(deploymentID string) ([]types.TriggerState, error) {
	return c.monitor.Status(deploymentID)
}

// TriggerRollback starts an operator-requested rollback. The approval gate
// only applies to automatic rollbacks; an explicit request is its own
// approval.
func (c *Controller) TriggerRollback(ctx context.Context, deploymentID, reason string) (*types.RollbackExecution, error) {
	if reason == "" {
		reason = "manual"
	}
	return c.executor.Execute(ctx, deploymentID, reason)
}

func (c *Controller) RollbackHistory(ctx context.Context, deploymentID string) ([]*types.RollbackExecution, error) {
	return c.executor.History(ctx, deploymentID)
}

// afterRollback runs when a rollback completes: the deployment's rollouts
// are reverted, its triggers reset, and its timeline updated.
func (c *Controller) afterRollback(ctx context.Context, deploymentID string) {
	if err := c.engine.Revert(ctx, deploymentID); err != nil {
		c.logger.Error("failed to revert rollouts after rollback",
			zap.String("deployment_id", deploymentID), zap.Error(err))
	}
	if err := c.monitor.Reset(ctx, deploymentID); err != nil && err != storage.ErrNotFound {
		c.logger.Error("failed to reset triggers after rollback",
			zap.String("deployment_id", deploymentID), zap.Error(err))
	}
	dep, err := c.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return
	}
	dep.Status = types.DeploymentStatusRolledBack
	dep.AddEvent("warn", "rolled-back", "rollback completed, traffic restored to previous version")
	if err := c.store.SaveDeployment(ctx, dep); err != nil {
		c.logger.Error("failed to persist deployment",
			zap.String("deployment_id", deploymentID), zap.Error(err))
	}
}

// failOverExecutions marks executions interrupted by a restart as failed.
func (c *Controller) failOverExecutions(ctx context.Context, deploymentID string) {
	execs, err := c.store.ListExecutions(ctx, deploymentID)
	if err != nil {
		c.logger.Error("failed to list rollback executions",
			zap.String("deployment_id", deploymentID), zap.Error(err))
		return
	}
	for _, exec := range execs {
		if exec.Status != types.ExecutionStatusInProgress {
			continue
		}
		now := time.Now()
		exec.Status = types.ExecutionStatusFailed
		exec.Error = "interrupted by controller restart"
		exec.EndTime = &now
		if err := c.store.SaveExecution(ctx, exec); err != nil {
			c.logger.Error("failed to fail over rollback execution",
				zap.String("execution_id", exec.ID), zap.Error(err))
			continue
		}
		c.bus.Emit(events.Event{
			Type:         events.TypeManualInterventionRequired,
			DeploymentID: deploymentID,
			Metadata: map[string]interface{}{
				"reason":       "rollback_interrupted",
				"execution_id": exec.ID,
			},
		})
		c.logger.Warn("rollback execution interrupted by restart",
			zap.String("deployment_id", deploymentID),
			zap.String("execution_id", exec.ID))
	}
}
