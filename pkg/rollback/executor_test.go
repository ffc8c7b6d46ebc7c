// pkg/rollback/executor_test.go
package rollback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/pkg/actions"
	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

type executorFixture struct {
	executor *Executor
	runner   *actions.RecordingExecutor
	actuator *actions.RecordingActuator
	provider *metrics.StaticProvider
	store    storage.Store
	bus      *events.Bus
	sink     *events.MemorySink

	mu        sync.Mutex
	successes []string
}

func immediateConfig() config.RollbackConfig {
	return config.RollbackConfig{
		Strategy: types.StrategyImmediate,
		Steps: []types.RollbackStep{
			{Name: "disable_flag", Action: "disable_flag"},
			{Name: "restore_traffic", Action: "restore_traffic"},
			{Name: "flush_cache", Action: "flush_cache"},
		},
		StepTimeout: time.Minute,
		StepRetries: 2,
	}
}

func newExecutorFixture(t *testing.T, cfg config.RollbackConfig, automation config.AutomationConfig) *executorFixture {
	t.Helper()
	logger := zap.NewNop()
	f := &executorFixture{
		runner:   actions.NewRecordingExecutor(),
		actuator: actions.NewRecordingActuator(),
		provider: metrics.NewStaticProvider(),
		store:    storage.NewMemoryStore(),
		sink:     events.NewMemorySink(),
	}
	f.bus = events.NewBus(64, logger, f.sink)

	executor, err := NewExecutor(cfg, automation, 5*time.Second, f.provider, f.runner, f.actuator, f.store, f.bus, nil, logger)
	require.NoError(t, err)
	executor.sleep = func(context.Context, time.Duration) error { return nil }
	executor.SetOnSuccess(func(_ context.Context, deploymentID string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.successes = append(f.successes, deploymentID)
	})
	f.executor = executor
	return f
}

func (f *executorFixture) successCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.successes)
}

func TestExecuteImmediateRunsStepsInOrder(t *testing.T) {
	f := newExecutorFixture(t, immediateConfig(), config.AutomationConfig{MaxAttempts: 3})
	ctx := context.Background()

	exec, err := f.executor.Execute(ctx, "dep-1", "trigger:high-error-rate")
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, exec.Attempts)
	assert.Equal(t, "trigger:high-error-rate", exec.Reason)
	assert.Equal(t, []string{"disable_flag", "restore_traffic", "flush_cache"}, f.runner.Calls())
	require.Len(t, exec.Steps, 3)
	for _, step := range exec.Steps {
		assert.Equal(t, types.ExecutionStatusCompleted, step.Status)
		assert.Equal(t, 1, step.Attempts)
		assert.NotNil(t, step.EndTime)
	}
	assert.Equal(t, 1, f.successCount())

	// The execution is archived.
	archived, err := f.store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusCompleted, archived.Status)

	require.NoError(t, f.bus.Close())
	assert.Len(t, f.sink.ByType(events.TypeRollbackCompleted), 1)
}

func TestExecuteStepRetriesBoundedByBudget(t *testing.T) {
	cfg := immediateConfig()
	f := newExecutorFixture(t, cfg, config.AutomationConfig{MaxAttempts: 1})
	ctx := context.Background()
	f.runner.FailAction("restore_traffic", errors.New("load balancer unreachable"))

	exec, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.Error(t, err)

	var exhaustion *ExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	assert.Equal(t, types.ExecutionStatusFailed, exec.Status)

	// disable_flag once, restore_traffic retried to its 3 attempt budget,
	// flush_cache never reached.
	calls := f.runner.Calls()
	assert.Equal(t, []string{"disable_flag", "restore_traffic", "restore_traffic", "restore_traffic"}, calls)

	require.Len(t, exec.Steps, 2)
	failed := exec.Steps[1]
	assert.Equal(t, types.ExecutionStatusFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, 3, failed.MaxAttempts)
	assert.Contains(t, failed.Error, "load balancer unreachable")
	assert.Equal(t, 0, f.successCount())
}

func TestExecuteStepExplicitZeroRetriesDisablesRetries(t *testing.T) {
	cfg := immediateConfig()
	noRetries := 0
	cfg.Steps[1].Retries = &noRetries
	f := newExecutorFixture(t, cfg, config.AutomationConfig{MaxAttempts: 1})
	ctx := context.Background()
	f.runner.FailAction("restore_traffic", errors.New("load balancer unreachable"))

	exec, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.Error(t, err)

	// A single attempt despite the global retry default of 2.
	assert.Equal(t, []string{"disable_flag", "restore_traffic"}, f.runner.Calls())
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, 1, exec.Steps[1].Attempts)
	assert.Equal(t, 1, exec.Steps[1].MaxAttempts)
}

func TestExecuteOuterRetryRenamesReasonAndExhausts(t *testing.T) {
	f := newExecutorFixture(t, immediateConfig(), config.AutomationConfig{MaxAttempts: 3})
	ctx := context.Background()
	f.runner.FailAll(errors.New("executor down"))

	exec, err := f.executor.Execute(ctx, "dep-1", "trigger:high-error-rate")
	require.Error(t, err)

	var exhaustion *ExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	assert.Equal(t, 3, exhaustion.Attempts)
	assert.Equal(t, 3, exec.Attempts)
	assert.Equal(t, "trigger:high-error-rate_retry_2", exec.Reason)
	assert.Equal(t, types.ExecutionStatusFailed, exec.Status)
	assert.NotNil(t, exec.EndTime)

	require.NoError(t, f.bus.Close())
	assert.Len(t, f.sink.ByType(events.TypeRollbackFailed), 3)
	assert.Len(t, f.sink.ByType(events.TypeRollbackExhausted), 1)
	assert.Len(t, f.sink.ByType(events.TypeManualInterventionRequired), 1)
}

func TestExecuteVerificationFailureRetriesWholeRollback(t *testing.T) {
	cfg := immediateConfig()
	cfg.Verification = []types.VerificationCheck{
		{Name: "traffic-restored", Type: types.VerificationHealthCheck, MinAvailability: 99},
	}
	f := newExecutorFixture(t, cfg, config.AutomationConfig{MaxAttempts: 3})
	ctx := context.Background()

	f.provider.Queue("dep-1",
		&types.DeploymentMetrics{Availability: 95},
		&types.DeploymentMetrics{Availability: 99.9})

	exec, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.NoError(t, err)

	assert.Equal(t, types.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 2, exec.Attempts)
	assert.Equal(t, "manual_retry_1", exec.Reason)
	assert.Equal(t, 1, f.successCount())

	require.NoError(t, f.bus.Close())
	assert.Len(t, f.sink.ByType(events.TypeRollbackFailed), 1)
	assert.Len(t, f.sink.ByType(events.TypeRollbackCompleted), 1)
}

func TestExecuteRefusesDuringCooldown(t *testing.T) {
	f := newExecutorFixture(t, immediateConfig(), config.AutomationConfig{MaxAttempts: 1, Cooldown: 30 * time.Minute})
	ctx := context.Background()

	_, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.NoError(t, err)

	_, err = f.executor.Execute(ctx, "dep-1", "manual")
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, "dep-1", cooldown.DeploymentID)
	assert.Greater(t, cooldown.Remaining, time.Duration(0))

	// Another deployment is unaffected.
	_, err = f.executor.Execute(ctx, "dep-2", "manual")
	assert.NoError(t, err)
}

func TestExecuteCooldownSurvivesRestart(t *testing.T) {
	f := newExecutorFixture(t, immediateConfig(), config.AutomationConfig{MaxAttempts: 1, Cooldown: 30 * time.Minute})
	ctx := context.Background()

	_, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.NoError(t, err)

	// A fresh executor over the same store sees the archived execution.
	logger := zap.NewNop()
	fresh, err := NewExecutor(immediateConfig(), config.AutomationConfig{MaxAttempts: 1, Cooldown: 30 * time.Minute},
		time.Second, f.provider, f.runner, f.actuator, f.store, f.bus, nil, logger)
	require.NoError(t, err)
	fresh.sleep = func(context.Context, time.Duration) error { return nil }

	_, err = fresh.Execute(ctx, "dep-1", "manual")
	var cooldown *CooldownError
	assert.ErrorAs(t, err, &cooldown)
}

func TestExecuteRefusesOverlappingRollback(t *testing.T) {
	f := newExecutorFixture(t, immediateConfig(), config.AutomationConfig{MaxAttempts: 1})
	ctx := context.Background()

	f.executor.mu.Lock()
	f.executor.inFlight["dep-1"] = true
	f.executor.mu.Unlock()

	_, err := f.executor.Execute(ctx, "dep-1", "manual")
	assert.ErrorIs(t, err, ErrRollbackInFlight)
}

func TestExecuteGradualWalksRungsDown(t *testing.T) {
	cfg := config.RollbackConfig{
		Strategy:    types.StrategyGradual,
		StepTimeout: time.Minute,
	}
	f := newExecutorFixture(t, cfg, config.AutomationConfig{MaxAttempts: 1})
	ctx := context.Background()

	exec, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusCompleted, exec.Status)

	shifts := f.actuator.Shifts()
	require.Len(t, shifts, 4)
	var pcts []float64
	for _, shift := range shifts {
		assert.Equal(t, "dep-1", shift.DeploymentID)
		pcts = append(pcts, shift.Percentage)
	}
	assert.Equal(t, []float64{75, 50, 25, 0}, pcts)
}

func TestExecuteGradualFailureStopsDescent(t *testing.T) {
	cfg := config.RollbackConfig{
		Strategy:    types.StrategyGradual,
		StepTimeout: time.Minute,
	}
	f := newExecutorFixture(t, cfg, config.AutomationConfig{MaxAttempts: 1})
	ctx := context.Background()
	f.actuator.Fail(errors.New("mesh unreachable"))

	exec, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.Error(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, exec.Status)
	require.NotEmpty(t, exec.Steps)
	assert.Equal(t, types.ExecutionStatusFailed, exec.Steps[0].Status)
}

func TestExecuteBlueGreenRunsNamedSteps(t *testing.T) {
	cfg := config.RollbackConfig{
		Strategy:    types.StrategyBlueGreen,
		StepTimeout: time.Minute,
	}
	f := newExecutorFixture(t, cfg, config.AutomationConfig{MaxAttempts: 1})
	ctx := context.Background()

	exec, err := f.executor.Execute(ctx, "dep-1", "manual")
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, []string{
		"switch_traffic_to_previous",
		"validate_traffic_switch",
		"decommission_failed_version",
	}, f.runner.Calls())
}

func TestNewExecutorValidatesConfiguration(t *testing.T) {
	logger := zap.NewNop()
	bus := events.NewBus(8, logger)
	store := storage.NewMemoryStore()
	provider := metrics.NewStaticProvider()

	_, err := NewExecutor(config.RollbackConfig{Strategy: "teleport"}, config.AutomationConfig{},
		time.Second, provider, actions.NewRecordingExecutor(), actions.NewRecordingActuator(), store, bus, nil, logger)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewExecutor(config.RollbackConfig{Strategy: types.StrategyImmediate}, config.AutomationConfig{},
		time.Second, provider, actions.NewRecordingExecutor(), actions.NewRecordingActuator(), store, bus, nil, logger)
	assert.ErrorAs(t, err, &cfgErr)

	badVerify := config.RollbackConfig{
		Strategy:     types.StrategyGradual,
		Verification: []types.VerificationCheck{{Name: "v", Type: types.VerificationMetricValidation}},
	}
	_, err = NewExecutor(badVerify, config.AutomationConfig{},
		time.Second, provider, actions.NewRecordingExecutor(), actions.NewRecordingActuator(), store, bus, nil, logger)
	assert.ErrorAs(t, err, &cfgErr)
}
